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
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter turns a Counters snapshot into Prometheus gauges.
// Unlike the teacher's exporter, which scrapes a sibling process over
// HTTP, this one reads counters in-process since ptpslaved's status
// server and engine share an address space.
type PrometheusExporter struct {
	registry *prometheus.Registry
	counters *Counters
}

// NewPrometheusExporter returns an exporter backed by counters.
func NewPrometheusExporter(counters *Counters) *PrometheusExporter {
	return &PrometheusExporter{
		registry: prometheus.NewRegistry(),
		counters: counters,
	}
}

// Handler returns the http.Handler the status server mounts at
// /metrics. Each call re-scrapes counters first, so the handler
// always serves the latest values.
func (e *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(e.serve)
}

func (e *PrometheusExporter) serve(w http.ResponseWriter, r *http.Request) {
	e.scrapeMetrics()
	promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}).ServeHTTP(w, r)
}

func (e *PrometheusExporter) scrapeMetrics() {
	for mkey, mval := range e.counters.GetCounters() {
		promCollector := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: flattenKey(mkey),
			Help: mkey,
		})
		if err := e.registry.Register(promCollector); err != nil {
			are := &prometheus.AlreadyRegisteredError{}
			if errors.As(err, are) {
				promCollector = are.ExistingCollector.(prometheus.Gauge)
			} else {
				log.Errorf("failed to register metric %s: %v", mkey, err)
				continue
			}
		}
		promCollector.Set(float64(mval))
	}
}

func flattenKey(key string) string {
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, ".", "_")
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, "=", "_")
	key = strings.ReplaceAll(key, "/", "_")
	return key
}
