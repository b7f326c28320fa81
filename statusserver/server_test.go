/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package statusserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leifclaesson/ptpslave/ptp/engine"
	"github.com/leifclaesson/ptpslave/ptp/engine/enginetest"
	"github.com/leifclaesson/ptpslave/stats"
)

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestServerServesStatusAndCounters(t *testing.T) {
	clock := &enginetest.FakeClock{Now: 1000}
	event := &enginetest.FakeSocket{}
	general := &enginetest.FakeSocket{}
	eng := engine.New(0, clock, event, general)
	require.True(t, eng.Begin())

	var counters stats.Counters
	counters.SetLockStatus(true)
	counters.IncRXAnnounce()
	exporter := stats.NewPrometheusExporter(&counters)

	addr := freeAddr(t)
	srv := New(addr, eng, &counters, exporter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	base := "http://" + addr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(base + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var sv statusView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sv))
	require.Equal(t, "NOT OK", sv.ShortStatus)
	require.False(t, sv.Master.Valid)

	resp2, err := http.Get(base + "/counters")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var counterMap map[string]int64
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&counterMap))
	require.Equal(t, int64(1), counterMap["ptpslave.lock_status"])
	require.Equal(t, int64(1), counterMap["ptpslave.rx.announce"])

	resp3, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp3.Body.Close()
	require.Equal(t, http.StatusOK, resp3.StatusCode)

	cancel()
	require.NoError(t, <-done)
}
