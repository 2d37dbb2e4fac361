package drain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/johnemcbride/infra-cdk/internal/telemetry"
	"github.com/johnemcbride/infra-cdk/internal/workload"
	"github.com/johnemcbride/infra-cdk/pkg/api"
)

// Controller walks the node through running -> draining -> quiesced. There
// is no fatal path here: a failed or timed-out shutdown degrades to an
// ungraceful kill by the platform, which is an accepted outcome.
type Controller struct {
	Runtime         workload.Runtime
	Recorder        api.Recorder
	ShutdownTimeout time.Duration
	QuiesceIdle     time.Duration

	mu    sync.Mutex
	phase api.DrainPhase
}

func New(rt workload.Runtime, rec api.Recorder, shutdownTimeout, quiesceIdle time.Duration) *Controller {
	return &Controller{
		Runtime:         rt,
		Recorder:        rec,
		ShutdownTimeout: shutdownTimeout,
		QuiesceIdle:     quiesceIdle,
		phase:           api.PhaseRunning,
	}
}

// Phase returns the current drain phase.
func (c *Controller) Phase() api.DrainPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Trigger drains the workload. Only the first call acts; the transition out
// of running is one-way and the workload is never restarted afterwards.
func (c *Controller) Trigger(ctx context.Context) {
	c.mu.Lock()
	if c.phase != api.PhaseRunning {
		c.mu.Unlock()
		return
	}
	c.phase = api.PhaseDraining
	c.mu.Unlock()
	telemetry.GaugeGlobal("nodeagent_drain_phase", phaseValue(api.PhaseDraining), nil)

	// Record the transition before the shutdown call so the fact of
	// draining is durable even if the shutdown stalls.
	c.record(ctx, api.Event{Kind: api.EventDrainTriggered})

	if err := c.Runtime.Down(ctx, c.ShutdownTimeout); err != nil {
		if errors.Is(err, workload.ErrDownTimeout) {
			log.Warn().Dur("timeout", c.ShutdownTimeout).Msg("workload shutdown exceeded budget")
		} else {
			log.Warn().Err(err).Msg("workload shutdown failed")
		}
	}

	c.mu.Lock()
	c.phase = api.PhaseQuiesced
	c.mu.Unlock()
	telemetry.GaugeGlobal("nodeagent_drain_phase", phaseValue(api.PhaseQuiesced), nil)
	c.record(ctx, api.Event{Kind: api.EventQuiesced})

	// Hold the node quiescent until the platform reaps it. Nothing may
	// restart the workload from here.
	log.Info().Dur("idle", c.QuiesceIdle).Msg("quiesced, awaiting termination")
	select {
	case <-ctx.Done():
	case <-time.After(c.QuiesceIdle):
	}
}

func phaseValue(p api.DrainPhase) float64 {
	switch p {
	case api.PhaseDraining:
		return 1
	case api.PhaseQuiesced:
		return 2
	default:
		return 0
	}
}

func (c *Controller) record(ctx context.Context, e api.Event) {
	if c.Recorder == nil {
		return
	}
	e.Time = time.Now().UTC()
	if err := c.Recorder.Record(ctx, e); err != nil {
		log.Warn().Err(err).Str("kind", string(e.Kind)).Msg("record lifecycle event")
	}
}
