package workload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrDownTimeout is returned when the supervisor did not finish an ordered
// shutdown within the given budget.
var ErrDownTimeout = errors.New("workload: shutdown timed out")

// Runtime brings the unpacked bundle's services up and down. The agent
// treats the supervisor behind it as opaque.
type Runtime interface {
	Up(ctx context.Context, manifestPath string) error
	Down(ctx context.Context, timeout time.Duration) error
}

// ExecRuntime drives an external supervisor binary. The manifest path is
// appended to the up argv; down runs as configured.
type ExecRuntime struct {
	UpArgv   []string
	DownArgv []string
	Dir      string
}

func (r *ExecRuntime) Up(ctx context.Context, manifestPath string) error {
	if len(r.UpArgv) == 0 {
		return errors.New("workload: up command not configured")
	}
	argv := append(append([]string{}, r.UpArgv...), manifestPath)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("workload up: %w: %s", err, out)
	}
	log.Info().Str("manifest", manifestPath).Msg("workload up")
	return nil
}

func (r *ExecRuntime) Down(ctx context.Context, timeout time.Duration) error {
	if len(r.DownArgv) == 0 {
		return errors.New("workload: down command not configured")
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(dctx, r.DownArgv[0], r.DownArgv[1:]...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if dctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w after %s", ErrDownTimeout, timeout)
		}
		return fmt.Errorf("workload down: %w: %s", err, out)
	}
	log.Info().Msg("workload down")
	return nil
}

// FindManifest returns the first matching manifest under root.
func FindManifest(root string, candidates []string) (string, error) {
	for _, name := range candidates {
		p := filepath.Join(root, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no manifest found under %s (tried %v)", root, candidates)
}
