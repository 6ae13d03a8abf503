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

// Package syncstats exports the engine's current offset/delay/dispersion
// diagnostics as Prometheus gauges, for the ntpsyncd daemon's /metrics
// endpoint.
package syncstats

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/facebook/ntpsync/internal/syncloop"
	"github.com/facebook/ntpsync/internal/timemodel"
)

// Exporter periodically reads a TimeModel's diagnostics into a registered
// set of gauges and serves them over HTTP.
type Exporter struct {
	registry *prometheus.Registry
	model    *timemodel.TimeModel
	loop     *syncloop.Loop

	ofsRel       prometheus.Gauge
	ofsRelMin    prometheus.Gauge
	ofsRelMax    prometheus.Gauge
	delay        prometheus.Gauge
	adjustments  prometheus.Gauge
	synchronized prometheus.Gauge
	errorKind    prometheus.Gauge
}

// NewExporter registers the engine gauges against a fresh registry.
func NewExporter(model *timemodel.TimeModel, loop *syncloop.Loop) *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		model:    model,
		loop:     loop,
		ofsRel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ntpsync_offset_relative_seconds",
			Help: "Most recent adjustment's relative offset, in seconds.",
		}),
		ofsRelMin: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ntpsync_offset_relative_min_seconds",
			Help: "Minimum relative offset observed since the second adjustment.",
		}),
		ofsRelMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ntpsync_offset_relative_max_seconds",
			Help: "Maximum relative offset observed since the second adjustment.",
		}),
		delay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ntpsync_round_trip_delay_seconds",
			Help: "Round-trip delay of the most recently chosen sample.",
		}),
		adjustments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ntpsync_adjustments_total",
			Help: "Number of adjustments applied since startup.",
		}),
		synchronized: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ntpsync_synchronized",
			Help: "1 if the engine is currently synchronized, 0 otherwise.",
		}),
		errorKind: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ntpsync_error_kind",
			Help: "Current terminal error ordinal, 0 meaning no error.",
		}),
	}
	for _, c := range []prometheus.Collector{e.ofsRel, e.ofsRelMin, e.ofsRelMax, e.delay, e.adjustments, e.synchronized, e.errorKind} {
		e.registry.MustRegister(c)
	}
	return e
}

// Handler returns the promhttp handler for this exporter's registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Run refreshes the gauges from the TimeModel every interval until ctx is
// cancelled.
func (e *Exporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refresh()
		}
	}
}

func (e *Exporter) refresh() {
	ofsRel, ofsRelMin, ofsRelMax, delay := e.model.Diagnostics()
	e.ofsRel.Set(ofsRel)
	e.ofsRelMin.Set(ofsRelMin)
	e.ofsRelMax.Set(ofsRelMax)
	e.delay.Set(delay)
	e.adjustments.Set(float64(e.model.Adjustments()))
	if e.model.Synchronized() {
		e.synchronized.Set(1)
	} else {
		e.synchronized.Set(0)
	}
	e.errorKind.Set(float64(e.loop.Error()))
}

// ListenAndServe starts the /metrics HTTP server; it blocks until the
// server exits with an error (including a clean shutdown).
func (e *Exporter) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	log.Infof("serving metrics on %s/metrics", fmt.Sprintf("http://%s", addr))
	return http.ListenAndServe(addr, mux)
}
