/*
Copyright 2023-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package metrics

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type CrushMetrics struct {
	Resolutions         metric.Int64Counter
	ResolutionFailures  metric.Int64Counter
	ResolutionCacheHits metric.Int64Counter
	ResolutionDuration  metric.Float64Histogram
	MapReloads          metric.Int64Counter
	MapReloadFailures   metric.Int64Counter
	StaleSnapshots      metric.Int64Counter
}

var (
	crushMetrics     *CrushMetrics
	crushMetricsLock sync.Mutex
)

func GetCrushMetrics() *CrushMetrics {
	crushMetricsLock.Lock()

	if crushMetrics != nil {
		crushMetricsLock.Unlock()
		return crushMetrics
	}

	crushMetrics = newCrushMetrics()

	crushMetricsLock.Unlock()
	return crushMetrics
}

func newCrushMetrics() *CrushMetrics {
	meter := otel.Meter(
		"com.couchbase.crushmap",
		metric.WithInstrumentationVersion(BuildVersion()))

	resolutions, _ := meter.Int64Counter("crush_resolutions_total",
		metric.WithDescription("rule resolutions requested"))
	resolutionFailures, _ := meter.Int64Counter("crush_resolution_failures_total",
		metric.WithDescription("rule resolutions which returned an error"))
	resolutionCacheHits, _ := meter.Int64Counter("crush_resolution_cache_hits_total",
		metric.WithDescription("rule resolutions served from the per-map cache"))
	resolutionDuration, _ := meter.Float64Histogram("crush_resolution_duration_seconds",
		metric.WithDescription("time spent evaluating uncached rules"),
		metric.WithUnit("s"))
	mapReloads, _ := meter.Int64Counter("crush_map_reloads_total",
		metric.WithDescription("crush maps accepted from the map source"))
	mapReloadFailures, _ := meter.Int64Counter("crush_map_reload_failures_total",
		metric.WithDescription("crush maps rejected by validation"))
	staleSnapshots, _ := meter.Int64Counter("crush_map_stale_snapshots_total",
		metric.WithDescription("snapshots dropped because they were not newer than the current map"))

	return &CrushMetrics{
		Resolutions:         resolutions,
		ResolutionFailures:  resolutionFailures,
		ResolutionCacheHits: resolutionCacheHits,
		ResolutionDuration:  resolutionDuration,
		MapReloads:          mapReloads,
		MapReloadFailures:   mapReloadFailures,
		StaleSnapshots:      staleSnapshots,
	}
}
