package model

import "time"

// WarmKind names a report the cache warmer can precompute.
type WarmKind string

// Warm-up job kinds.
const (
	WarmMetaReport  WarmKind = "meta_report"
	WarmPatchAlerts WarmKind = "patch_alerts"
)

// WarmJob asks a warm-up worker to precompute one report. A nil SeriesID
// means every series.
type WarmJob struct {
	ID         string
	Kind       WarmKind
	SeriesID   *int64
	EnqueuedAt time.Time
}
