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

package stats

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	var c Counters
	c.SetLockStatus(true)
	c.IncRXAnnounce()
	c.IncRXAnnounce()

	exporter := NewPrometheusExporter(&c)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "ptpslave_lock_status")
	require.Contains(t, body, "ptpslave_rx_announce")
}

func TestHandlerReflectsUpdatedCounters(t *testing.T) {
	var c Counters
	exporter := NewPrometheusExporter(&c)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(rec, req)
	require.Contains(t, rec.Body.String(), "ptpslave_raw_pps 0")

	c.SetRawPPS(7)
	req2 := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec2 := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(rec2, req2)
	require.Contains(t, rec2.Body.String(), "ptpslave_raw_pps 7")
}

func TestFlattenKeyReplacesSeparators(t *testing.T) {
	require.Equal(t, "a_b_c_d_e", flattenKey("a.b-c=d/e"))
	require.Equal(t, "ptpslave_rx_sync", flattenKey("ptpslave.rx.sync"))
}
