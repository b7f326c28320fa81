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

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/leifclaesson/ptpslave/config"
	"github.com/leifclaesson/ptpslave/ptp/engine"
	"github.com/leifclaesson/ptpslave/ptp/protocol"
	"github.com/leifclaesson/ptpslave/statusserver"
	"github.com/leifclaesson/ptpslave/stats"
)

// loopInterval is how often the engine-loop goroutine polls the two
// multicast sockets. Both sockets are non-blocking, so this is a plain
// poll cadence rather than a read timeout.
const loopInterval = 10 * time.Millisecond

var (
	cfgPath        string
	domainFlag     uint8
	ifaceFlag      string
	monitoringAddr string
	verbose        bool
)

func main() {
	root := &cobra.Command{
		Use:   "ptpslaved",
		Short: "PTPv2 slave-only clock-discipline client",
		RunE:  run,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	root.PersistentFlags().Uint8Var(&domainFlag, "domain", 0, "PTP domain number to track")
	root.PersistentFlags().StringVar(&ifaceFlag, "iface", "eth0", "network interface to listen on")
	root.PersistentFlags().StringVar(&monitoringAddr, "monitoring-addr", ":4269", "status server listen address")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	flags := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		flags[f.Name] = true
	})

	logLevel := "info"
	if verbose {
		logLevel = "debug"
	}
	cfg, err := config.PrepareConfig(cfgPath, domainFlag, ifaceFlag, monitoringAddr, logLevel, flags)
	if err != nil {
		return fmt.Errorf("preparing config: %w", err)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	event, err := engine.ListenMulticast(cfg.Iface, protocol.PortEvent)
	if err != nil {
		return fmt.Errorf("opening event socket: %w", err)
	}
	general, err := engine.ListenMulticast(cfg.Iface, protocol.PortGeneral)
	if err != nil {
		return fmt.Errorf("opening general socket: %w", err)
	}

	clock := engine.NewMonotonicClock()
	eng := engine.New(cfg.Domain, clock, event, general)
	if !eng.Begin() {
		return fmt.Errorf("engine failed to start")
	}

	var counters stats.Counters
	exporter := stats.NewPrometheusExporter(&counters)
	srv := statusserver.New(cfg.MonitoringAddr, eng, &counters, exporter)
	sysStats, err := stats.NewSysStats()
	if err != nil {
		return fmt.Errorf("initializing system stats: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runEngineLoop(gctx, eng, &counters)
	})
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		sysStats.CollectForever(gctx, &counters, cfg.MetricsAggregationWindow)
		return nil
	})

	log.Infof("ptpslaved running: domain=%d iface=%s monitoring=%s", cfg.Domain, cfg.Iface, cfg.MonitoringAddr)

	err = g.Wait()
	_ = eng.Quit()
	return err
}

// runEngineLoop drives the engine's poll loop until ctx is cancelled,
// mirroring each tick's lock/diff/pps state into counters for the
// status server and Prometheus exporter to read.
func runEngineLoop(ctx context.Context, eng *engine.Engine, counters *stats.Counters) error {
	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			eng.Loop()
			counters.SetLockStatus(eng.GetLockStatus())
			counters.SetEverLocked(eng.GetEverLocked())
			counters.SetLastDiffMs(eng.GetLastDiffMs())
			counters.SetRawPPS(eng.GetRawPPS())
			counters.SetEpochValid(eng.GetEpochValid())
			counters.SetRXCounts(
				eng.GetAnnounceCount(),
				eng.GetSyncCount(),
				eng.GetDroppedWrongDomainCount(),
				eng.GetDroppedMalformedCount(),
			)
		}
	}
}
