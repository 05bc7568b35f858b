// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics registers the prometheus collectors named in §6:
// per-type running/pending counters, per-type max-compaction-score
// gauges, publish latency histograms, and delete-bitmap score gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tabletd"

var (
	CompactionTaskRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "compaction",
		Name:      "task_running",
		Help:      "Number of compaction tasks currently executing, by type.",
	}, []string{"type"})

	CompactionTaskPending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "compaction",
		Name:      "task_pending",
		Help:      "Number of compaction tasks currently submitted but not executing, by type.",
	}, []string{"type"})

	CompactionMaxScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "compaction",
		Name:      "max_score",
		Help:      "Highest observed compaction score in the last scheduler round, by type.",
	}, []string{"type"})

	PublishLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "publish",
		Name:      "latency_seconds",
		Help:      "Publish-version pipeline stage latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	MaxTabletDeleteBitmapScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "delete_bitmap",
		Name:      "max_tablet_score",
		Help:      "Highest delete-bitmap cardinality score across tracked tablets.",
	})

	MaxBaseRowsetDeleteBitmapScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "delete_bitmap",
		Name:      "max_base_rowset_score",
		Help:      "Highest delete-bitmap cardinality score among base rowsets across tracked tablets.",
	})
)

// Register installs every collector into reg. Call once at startup.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		CompactionTaskRunning,
		CompactionTaskPending,
		CompactionMaxScore,
		PublishLatencySeconds,
		MaxTabletDeleteBitmapScore,
		MaxBaseRowsetDeleteBitmapScore,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
