// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing wraps OpenCensus spans around Task.Run,
// Scheduler.SpawnTask, and MemSource.Migrate. It is off by default: no
// exporter is registered, so StartSpan is a cheap no-op sampler check.
// Setting NUMA_TRACE_JAEGER_AGENT or NUMA_TRACE_JAEGER_COLLECTOR starts a
// Jaeger exporter for spans, the way the teacher's
// pkg/instrumentation/tracing wires exporters from environment/flags.
package tracing

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"contrib.go.opencensus.io/exporter/jaeger"
	promexporter "contrib.go.opencensus.io/exporter/prometheus"
	pclient "github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/trace"

	logger "github.com/intel/go-numa-runtime/pkg/log"
)

var log = logger.Get("tracing")

const (
	jaegerAgentEnvVar     = "NUMA_TRACE_JAEGER_AGENT"
	jaegerCollectorEnvVar = "NUMA_TRACE_JAEGER_COLLECTOR"
	sampleRatioEnvVar     = "NUMA_TRACE_SAMPLE"
)

var (
	mu            sync.Mutex
	jaegerExp     *jaeger.Exporter
	prometheusExp *promexporter.Exporter

	spanDuration = stats.Float64("numa_runtime/span_duration_ms", "Duration of a traced span.", stats.UnitMilliseconds)
	spanView     = &view.View{
		Name:        "numa_runtime/span_duration_ms",
		Measure:     spanDuration,
		Description: "Distribution of traced span durations.",
		Aggregation: view.Distribution(0, 1, 5, 10, 50, 100, 500, 1000, 5000),
	}
)

// Configure starts (or restarts) the Jaeger exporter with the given
// agent/collector endpoints and trace sampling ratio. Passing both
// endpoints empty disables tracing.
func Configure(agent, collector string, sampleRatio float64) error {
	mu.Lock()
	defer mu.Unlock()

	if jaegerExp != nil {
		trace.UnregisterExporter(jaegerExp)
		jaegerExp = nil
	}

	if agent == "" && collector == "" {
		log.Info("tracing disabled")
		return nil
	}

	exp, err := jaeger.NewExporter(jaeger.Options{
		AgentEndpoint:     agent,
		CollectorEndpoint: collector,
		Process:           jaeger.Process{ServiceName: "go-numa-runtime"},
		OnError:           func(err error) { log.Error("jaeger exporter: %v", err) },
	})
	if err != nil {
		return err
	}

	trace.RegisterExporter(exp)
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.ProbabilitySampler(sampleRatio)})
	jaegerExp = exp
	log.Info("tracing enabled, agent=%q collector=%q sample=%v", agent, collector, sampleRatio)
	return nil
}

// enablePrometheusView registers the span-duration view with a dedicated
// OpenCensus Prometheus exporter, kept separate from pkg/metrics's
// registry since it is stats-view driven rather than Collector driven.
func enablePrometheusView() {
	mu.Lock()
	defer mu.Unlock()
	if prometheusExp != nil {
		return
	}
	exp, err := promexporter.NewExporter(promexporter.Options{
		Namespace: "numa_runtime",
		Gatherer:  pclient.DefaultGatherer,
		OnError:   func(err error) { log.Error("prometheus view exporter: %v", err) },
	})
	if err != nil {
		log.Error("failed to create prometheus view exporter: %v", err)
		return
	}
	if err := view.Register(spanView); err != nil {
		log.Error("failed to register span view: %v", err)
		return
	}
	view.RegisterExporter(exp)
	prometheusExp = exp
}

// StartSpan starts a named span, cheap when tracing is disabled since
// the default sampler then never records.
func StartSpan(ctx context.Context, name string) (context.Context, *trace.Span) {
	return trace.StartSpan(ctx, name)
}

// Span starts a named span and returns a func that ends it and records
// its duration against the numa_runtime/span_duration_ms view. Intended
// to be deferred at the top of a traced call:
//
//	ctx, end := tracing.Span(ctx, "task.run")
//	defer end()
func Span(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := trace.StartSpan(ctx, name)
	start := time.Now()
	return ctx, func() {
		stats.Record(ctx, spanDuration.M(float64(time.Since(start).Microseconds())/1000))
		span.End()
	}
}

func init() {
	agent := os.Getenv(jaegerAgentEnvVar)
	collector := os.Getenv(jaegerCollectorEnvVar)
	ratio := 1.0
	if v := os.Getenv(sampleRatioEnvVar); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 && r <= 1 {
			ratio = r
		} else {
			log.Warn("invalid %s=%q, using default sampling", sampleRatioEnvVar, v)
		}
	}
	if agent != "" || collector != "" {
		if err := Configure(agent, collector, ratio); err != nil {
			log.Error("failed to start tracing: %v", err)
			return
		}
		enablePrometheusView()
	}
}
