package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/johnemcbride/infra-cdk/internal/artifact"
	"github.com/johnemcbride/infra-cdk/internal/pointer"
	"github.com/johnemcbride/infra-cdk/internal/telemetry"
	"github.com/johnemcbride/infra-cdk/internal/workload"
	"github.com/johnemcbride/infra-cdk/pkg/api"
)

// FatalError halts bootstrap; Kind is the lifecycle event emitted for it.
type FatalError struct {
	Kind api.EventKind
	Err  error
}

func (e *FatalError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Result describes a completed bootstrap.
type Result struct {
	Key          string
	ManifestPath string
	// Reused is true when the completion marker already matched the
	// resolved key and fetch/materialize were skipped.
	Reused bool
}

// Sequencer performs the one-shot boot sequence: resolve the version
// pointer, fetch the artifact, materialize it under Root, activate the
// workload. Steps run strictly in order; a step never starts before the
// previous one fully succeeded.
type Sequencer struct {
	Pointer  pointer.Resolver
	Store    artifact.Store
	Runtime  workload.Runtime
	Recorder api.Recorder

	PointerName   string
	Root          string
	Marker        string
	ManifestNames []string
	Retry         RetryConfig

	ran atomic.Bool
}

// Run executes the sequence. It may be called once per process lifetime.
func (s *Sequencer) Run(ctx context.Context) (*Result, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return nil, errors.New("bootstrap already ran on this node")
	}
	start := time.Now()
	s.record(ctx, api.Event{Kind: api.EventBootstrapStarted})

	// Step 1: resolve the version pointer. Read exactly once; the value is
	// immutable for the rest of this node's lifetime.
	var key string
	err := withRetry(ctx, s.Retry, "resolve pointer", func() error {
		var rerr error
		key, rerr = s.Pointer.Resolve(ctx, s.PointerName)
		return rerr
	}, func(err error) bool { return errors.Is(err, pointer.ErrUnavailable) })
	if err != nil {
		if errors.Is(err, pointer.ErrNotFound) {
			return nil, s.fatal(ctx, api.EventPointerNotFound, "", err)
		}
		return nil, s.fatal(ctx, api.EventControlPlaneUnavailable, "", err)
	}
	log.Info().Str("pointer", s.PointerName).Str("key", key).Msg("version pointer resolved")

	result := &Result{Key: key}

	if artifact.MarkerMatches(s.Root, s.Marker, key) {
		// A prior unpack of this exact key completed; skip straight to
		// activation. A marker for any other key is ignored and the root
		// rebuilt from scratch.
		log.Info().Str("key", key).Msg("workload root already materialized")
		result.Reused = true
	} else {
		// Step 2: fetch the artifact.
		var data []byte
		fetchStart := time.Now()
		err = withRetry(ctx, s.Retry, "fetch artifact", func() error {
			var ferr error
			data, ferr = s.Store.Fetch(ctx, key)
			return ferr
		}, func(err error) bool { return errors.Is(err, artifact.ErrUnavailable) })
		if err != nil {
			if errors.Is(err, artifact.ErrNotFound) {
				return nil, s.fatal(ctx, api.EventArtifactNotFound, key, err)
			}
			return nil, s.fatal(ctx, api.EventArtifactFetchFailed, key, err)
		}
		telemetry.TimerGlobal("nodeagent_artifact_fetch_duration", time.Since(fetchStart), map[string]string{"key": key})

		// Step 3: materialize into the workload root.
		if err := artifact.Materialize(key, data, s.Root, s.Marker); err != nil {
			return nil, s.fatal(ctx, api.EventMaterializationFailed, key, err)
		}
	}

	// Step 4: activate the workload runtime.
	manifest, err := workload.FindManifest(s.Root, s.ManifestNames)
	if err != nil {
		return nil, s.fatal(ctx, api.EventWorkloadActivationFailed, key, err)
	}
	if err := s.Runtime.Up(ctx, manifest); err != nil {
		return nil, s.fatal(ctx, api.EventWorkloadActivationFailed, key, err)
	}
	result.ManifestPath = manifest

	s.record(ctx, api.Event{Kind: api.EventBootstrapComplete, ArtifactKey: key})
	telemetry.TimerGlobal("nodeagent_bootstrap_duration", time.Since(start), map[string]string{"key": key})
	return result, nil
}

func (s *Sequencer) fatal(ctx context.Context, kind api.EventKind, key string, err error) error {
	s.record(ctx, api.Event{Kind: kind, ArtifactKey: key, Detail: err.Error()})
	telemetry.CounterGlobal("nodeagent_bootstrap_fatal", 1, map[string]string{"kind": string(kind)})
	return &FatalError{Kind: kind, Err: err}
}

func (s *Sequencer) record(ctx context.Context, e api.Event) {
	if s.Recorder == nil {
		return
	}
	e.Time = time.Now().UTC()
	if err := s.Recorder.Record(ctx, e); err != nil {
		log.Warn().Err(err).Str("kind", string(e.Kind)).Msg("record lifecycle event")
	}
}
