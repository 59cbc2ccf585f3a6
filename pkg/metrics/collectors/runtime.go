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

package collectors

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/go-numa-runtime/pkg/metrics"
	"github.com/intel/go-numa-runtime/pkg/msource"
	"github.com/intel/go-numa-runtime/pkg/scheduler"
)

// runtimeCollector exposes scheduler dispatch state and MemSource
// allocator accounting as Prometheus gauges, one series per NUMA node.
type runtimeCollector struct {
	workerThreads *prometheus.Desc
	sleepingUnits *prometheus.Desc
	sourceBlocks  *prometheus.Desc
	sourceRefs    *prometheus.Desc
	sourceArenas  *prometheus.Desc
	sourceBytes   *prometheus.Desc
}

// NewRuntimeCollector returns a collector reporting live scheduler and
// MemSource state, scraped fresh on every Collect call.
func NewRuntimeCollector() prometheus.Collector {
	return &runtimeCollector{
		workerThreads: prometheus.NewDesc(
			"scheduler_worker_threads", "Number of dispatch worker threads pinned to a node.",
			[]string{"node"}, nil),
		sleepingUnits: prometheus.NewDesc(
			"scheduler_sleeping_workers", "Number of worker threads currently parked waiting for work.",
			[]string{"node"}, nil),
		sourceBlocks: prometheus.NewDesc(
			"msource_blocks", "Number of live allocations handed out by a MemSource.",
			[]string{"node", "name"}, nil),
		sourceRefs: prometheus.NewDesc(
			"msource_refs", "Number of outstanding references to a MemSource.",
			[]string{"node", "name"}, nil),
		sourceArenas: prometheus.NewDesc(
			"msource_arenas", "Number of mmap arenas backing a MemSource.",
			[]string{"node", "name"}, nil),
		sourceBytes: prometheus.NewDesc(
			"msource_total_bytes", "Total bytes mapped across a MemSource's arenas.",
			[]string{"node", "name"}, nil),
	}
}

func (c *runtimeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.workerThreads
	ch <- c.sleepingUnits
	ch <- c.sourceBlocks
	ch <- c.sourceRefs
	ch <- c.sourceArenas
	ch <- c.sourceBytes
}

func (c *runtimeCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range scheduler.AllSchedulers() {
		node := strconv.Itoa(s.Node().Physical)
		ch <- prometheus.MustNewConstMetric(c.workerThreads, prometheus.GaugeValue, float64(s.ThreadCount()), node)
		ch <- prometheus.MustNewConstMetric(c.sleepingUnits, prometheus.GaugeValue, float64(s.Sleeping()), node)
	}

	for _, src := range msource.AllSources() {
		stats := src.Stats()
		node := strconv.Itoa(stats.PhysicalNode)
		ch <- prometheus.MustNewConstMetric(c.sourceBlocks, prometheus.GaugeValue, float64(stats.Blocks), node, stats.Description)
		ch <- prometheus.MustNewConstMetric(c.sourceRefs, prometheus.GaugeValue, float64(stats.Refs), node, stats.Description)
		ch <- prometheus.MustNewConstMetric(c.sourceArenas, prometheus.GaugeValue, float64(stats.ArenaCount), node, stats.Description)
		ch <- prometheus.MustNewConstMetric(c.sourceBytes, prometheus.GaugeValue, float64(stats.TotalSize), node, stats.Description)
	}
}

func init() {
	metrics.MustRegister("runtime", NewRuntimeCollector(),
		metrics.WithGroup("standard"),
		metrics.WithCollectorOptions(
			metrics.WithoutNamespace(),
			metrics.WithoutSubsystem(),
		),
	)
}
