package preemption

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/johnemcbride/infra-cdk/internal/telemetry"
)

// SignalSource answers whether an involuntary termination is pending.
// Observed, never stored: the answer is re-derived on every poll.
type SignalSource interface {
	Poll(ctx context.Context) (pending bool, err error)
}

// Drainer is what the watcher invokes on the first pending reading.
type Drainer interface {
	Trigger(ctx context.Context)
}

// IMDSSource polls a local instance-metadata URL. A 200 means a termination
// notice is posted; 404 means none. The endpoint is best-effort, so any
// other response or transport error is reported as a query error.
type IMDSSource struct {
	URL    string
	client *http.Client
}

func NewIMDSSource(url string) *IMDSSource {
	return &IMDSSource{
		URL:    url,
		client: &http.Client{Timeout: 2 * time.Second},
	}
}

func (s *IMDSSource) Poll(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("signal source status %d", resp.StatusCode)
	}
}

// Watcher polls the signal source at a fixed interval and triggers the
// drainer exactly once, on the first pending reading. It keeps polling
// afterwards only to keep the loop alive until the node is reaped.
type Watcher struct {
	Source   SignalSource
	Drain    Drainer
	Interval time.Duration
}

// Run loops until ctx is cancelled. Query errors are absorbed and treated
// as "no notice this cycle": missing a real notice is worse than an extra
// poll, so the loop never stops on error.
func (w *Watcher) Run(ctx context.Context) error {
	triggered := false
	for {
		pending, err := w.Source.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			telemetry.CounterGlobal("nodeagent_signal_query_errors", 1, nil)
			log.Debug().Err(err).Msg("termination signal query failed")
			pending = false
		}
		telemetry.CounterGlobal("nodeagent_signal_polls", 1, nil)

		if pending && !triggered {
			triggered = true
			log.Warn().Msg("termination notice observed, draining")
			w.Drain.Trigger(ctx)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.Interval):
		}
	}
}
