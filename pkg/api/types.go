package api

import (
	"context"
	"time"
)

// EventKind identifies a lifecycle event on the observability channel.
type EventKind string

const (
	EventBootstrapStarted  EventKind = "bootstrap_started"
	EventBootstrapComplete EventKind = "bootstrap_complete"
	EventDrainTriggered    EventKind = "drain_triggered"
	EventQuiesced          EventKind = "quiesced"

	// Fatal bootstrap outcomes. Exactly one of these is emitted when
	// bootstrap halts; none are emitted on success.
	EventControlPlaneUnavailable  EventKind = "control_plane_unavailable"
	EventPointerNotFound          EventKind = "pointer_not_found"
	EventArtifactFetchFailed      EventKind = "artifact_fetch_failed"
	EventArtifactNotFound         EventKind = "artifact_not_found"
	EventMaterializationFailed    EventKind = "materialization_failed"
	EventWorkloadActivationFailed EventKind = "workload_activation_failed"
)

// Event is a single append-only lifecycle record.
type Event struct {
	Kind        EventKind `json:"kind"`
	ArtifactKey string    `json:"artifact_key,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Time        time.Time `json:"time"`
}

// Recorder appends lifecycle events to an observability channel. Emission is
// best-effort: implementations may fail, callers log and move on.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, e Event) error

func (f RecorderFunc) Record(ctx context.Context, e Event) error { return f(ctx, e) }

// DrainPhase is the node-wide drain state. Transitions are one-way:
// running -> draining -> quiesced.
type DrainPhase string

const (
	PhaseRunning  DrainPhase = "running"
	PhaseDraining DrainPhase = "draining"
	PhaseQuiesced DrainPhase = "quiesced"
)
