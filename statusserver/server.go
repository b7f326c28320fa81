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

// Package statusserver exposes a running engine's state over HTTP:
// /status for a human/JSON snapshot, /counters for the raw counter
// map, and /metrics for Prometheus scraping.
package statusserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/leifclaesson/ptpslave/ptp/engine"
	"github.com/leifclaesson/ptpslave/ptp/tracker"
	"github.com/leifclaesson/ptpslave/stats"
)

// Server serves an Engine's state over HTTP.
type Server struct {
	addr     string
	eng      *engine.Engine
	counters *stats.Counters
	exporter *stats.PrometheusExporter

	httpServer *http.Server
}

// New builds a Server. addr is the listen address (e.g. ":4269").
func New(addr string, eng *engine.Engine, counters *stats.Counters, exporter *stats.PrometheusExporter) *Server {
	return &Server{
		addr:     addr,
		eng:      eng,
		counters: counters,
		exporter: exporter,
	}
}

// trackerView is the JSON shape for a master or candidate tracker.
type trackerView struct {
	Valid      bool   `json:"valid"`
	Healthy    bool   `json:"healthy"`
	IsMaster   bool   `json:"isMaster"`
	TwoStep    bool   `json:"twoStep"`
	ClockID    string `json:"clockIdentity"`
	PortNumber uint16 `json:"portNumber"`
	Priority1  uint8  `json:"priority1"`
	Priority2  uint8  `json:"priority2"`
	ClockClass uint8  `json:"clockClass"`
}

func newTrackerView(t *tracker.Tracker) trackerView {
	id := t.ID()
	ann := t.LastAnnounce()
	return trackerView{
		Valid:      t.HasValidSource(),
		Healthy:    t.Healthy(),
		IsMaster:   t.IsMaster(),
		TwoStep:    t.TwoStep(),
		ClockID:    id.ClockIdentity.String(),
		PortNumber: id.PortNumber,
		Priority1:  ann.Priority1,
		Priority2:  ann.Priority2,
		ClockClass: uint8(ann.ClockClass),
	}
}

// statusView is the JSON shape served at /status.
type statusView struct {
	LockStatus    bool        `json:"lockStatus"`
	EverLocked    bool        `json:"everLocked"`
	LastDiffMs    int16       `json:"lastDiffMs"`
	RawPPS        uint16      `json:"rawPPS"`
	EpochValid    bool        `json:"epochValid"`
	EpochMillis64 uint64      `json:"epochMillis64"`
	ShortStatus   string      `json:"shortStatus"`
	Master        trackerView `json:"master"`
	Candidate     trackerView `json:"candidate"`
}

func (s *Server) status() statusView {
	return statusView{
		LockStatus:    s.eng.GetLockStatus(),
		EverLocked:    s.eng.GetEverLocked(),
		LastDiffMs:    s.eng.GetLastDiffMs(),
		RawPPS:        s.eng.GetRawPPS(),
		EpochValid:    s.eng.GetEpochValid(),
		EpochMillis64: s.eng.GetEpochMillis64(),
		ShortStatus:   s.eng.GetShortStatusString(),
		Master:        newTrackerView(s.eng.GetMaster()),
		Candidate:     newTrackerView(s.eng.GetCandidate()),
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := stats.NewRequestID()
		c.Set("requestID", id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.status())
	})
	r.GET("/counters", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.counters.GetCounters())
	})
	r.GET("/metrics", gin.WrapH(s.exporter.Handler()))
}

// Serve starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if log.GetLevel() < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestID())
	s.registerRoutes(r)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("status server listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
