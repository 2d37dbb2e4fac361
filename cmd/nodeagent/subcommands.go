package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/johnemcbride/infra-cdk/internal/artifact"
	"github.com/johnemcbride/infra-cdk/internal/bootstrap"
	"github.com/johnemcbride/infra-cdk/internal/config"
	"github.com/johnemcbride/infra-cdk/internal/drain"
	"github.com/johnemcbride/infra-cdk/internal/journal"
	"github.com/johnemcbride/infra-cdk/internal/pointer"
	"github.com/johnemcbride/infra-cdk/internal/preemption"
	"github.com/johnemcbride/infra-cdk/internal/sshutil"
	"github.com/johnemcbride/infra-cdk/internal/statusd"
	"github.com/johnemcbride/infra-cdk/internal/telemetry"
	"github.com/johnemcbride/infra-cdk/internal/workload"
	"github.com/johnemcbride/infra-cdk/pkg/api"
)

// agent bundles the wired components for one process lifetime.
type agent struct {
	cfg        config.Config
	journal    *journal.Journal
	recorder   api.Recorder
	sequencer  *bootstrap.Sequencer
	controller *drain.Controller
	watcher    *preemption.Watcher
}

func (a *agent) close() {
	if a.journal != nil {
		_ = a.journal.Close()
	}
	_ = telemetry.Shutdown()
}

// buildAgent wires the agent from config.
func buildAgent(cmd *cobra.Command) (*agent, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	telemetry.InitGlobal(cfg.Telemetry.Enabled)

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	rec := journal.Tee{j, journal.LogRecorder{}}

	store, err := buildStore(cfg)
	if err != nil {
		j.Close()
		return nil, err
	}

	rt := &workload.ExecRuntime{
		UpArgv:   cfg.Workload.Up,
		DownArgv: cfg.Workload.Down,
		Dir:      cfg.Workload.Root,
	}

	seq := &bootstrap.Sequencer{
		Pointer:       pointer.NewHTTPResolver(cfg.Pointer.Endpoint, cfg.Pointer.Token),
		Store:         store,
		Runtime:       rt,
		Recorder:      rec,
		PointerName:   cfg.Pointer.Name,
		Root:          cfg.Workload.Root,
		Marker:        cfg.Workload.Marker,
		ManifestNames: cfg.Workload.Manifests,
		Retry: bootstrap.RetryConfig{
			MaxRetries:    cfg.Bootstrap.MaxRetries,
			InitialDelay:  time.Duration(cfg.Bootstrap.InitialDelayMS) * time.Millisecond,
			MaxDelay:      time.Duration(cfg.Bootstrap.MaxDelayMS) * time.Millisecond,
			BackoffFactor: 2.0,
		},
	}

	ctrl := drain.New(rt, rec, cfg.ShutdownTimeout(), cfg.QuiesceIdle())
	w := &preemption.Watcher{
		Source:   preemption.NewIMDSSource(cfg.Preemption.SignalURL),
		Drain:    ctrl,
		Interval: cfg.PollInterval(),
	}

	return &agent{cfg: cfg, journal: j, recorder: rec, sequencer: seq, controller: ctrl, watcher: w}, nil
}

func buildStore(cfg config.Config) (artifact.Store, error) {
	switch cfg.Artifact.Backend {
	case "http":
		return artifact.NewHTTPStore(cfg.Artifact.Endpoint, cfg.Artifact.Token), nil
	case "sftp":
		signer, err := sshutil.LoadPrivateKeySigner(cfg.Artifact.SFTP.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("artifact sftp key: %w", err)
		}
		kh, err := sshutil.LoadKnownHostsCallback(cfg.Artifact.SFTP.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("artifact sftp known_hosts: %w", err)
		}
		return &artifact.SFTPStore{
			Addr:       cfg.Artifact.SFTP.Addr,
			User:       cfg.Artifact.SFTP.User,
			Signer:     signer,
			KnownHosts: kh,
			BaseDir:    cfg.Artifact.SFTP.BaseDir,
		}, nil
	default:
		return nil, fmt.Errorf("unknown artifact backend: %s", cfg.Artifact.Backend)
	}
}

// Bootstrap the node and supervise it until the platform reclaims it.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Bootstrap the workload, then watch for a termination notice until killed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAgent(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if _, err := a.sequencer.Run(ctx); err != nil {
				return err
			}

			status := &statusd.Server{Version: version, Phase: a.controller.Phase, Events: a.journal}
			go func() {
				if err := status.ListenAndServe(a.cfg.Status.Addr); err != nil {
					log.Warn().Err(err).Msg("status server stopped")
				}
			}()

			watchDone := make(chan error, 1)
			go func() { watchDone <- a.watcher.Run(ctx) }()

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-sigc:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
			case err := <-watchDone:
				if err != nil {
					log.Debug().Err(err).Msg("watcher stopped")
				}
			}

			shctx, cancel := cmdShutdownContext()
			defer cancel()
			_ = status.Shutdown(shctx)
			return nil
		},
	}
}

// One-shot bootstrap, mainly for debugging a node by hand.
func newBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Resolve, fetch, materialize and activate the workload, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAgent(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			result, err := a.sequencer.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("bootstrapped %s (manifest %s)\n", result.Key, result.ManifestPath)
			return nil
		},
	}
}

// Watch only, for nodes whose workload is already active.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch for a termination notice and drain the running workload",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAgent(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return a.watcher.Run(cmd.Context())
		},
	}
}

// Dump the lifecycle journal.
func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print recorded lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			j, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()
			events, err := j.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, e := range events {
				fmt.Printf("%s\t%s\t%s\t%s\n", e.Time.Format(time.RFC3339), e.Kind, e.ArtifactKey, e.Detail)
			}
			return nil
		},
	}
}

func cmdShutdownContext() (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
