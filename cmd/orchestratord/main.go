// Command orchestratord is the Browser Automation Orchestration Core's
// process entrypoint: it loads configuration, wires the Profile Manager,
// Browser Driver Adapter factory, Progressive Escalation Engine, Step
// Executor, Script Runner, Session Manager, Artifact Uploader, and Control
// Plane together, then serves until a shutdown signal arrives. Grounded on
// the teacher's docker-controller/cmd/main.go bootstrap/signal-shutdown
// idiom.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/streamspace/browser-orchestrator/internal/artifact"
	"github.com/streamspace/browser-orchestrator/internal/config"
	"github.com/streamspace/browser-orchestrator/internal/controlplane"
	"github.com/streamspace/browser-orchestrator/internal/driver"
	"github.com/streamspace/browser-orchestrator/internal/eventbus"
	"github.com/streamspace/browser-orchestrator/internal/logging"
	"github.com/streamspace/browser-orchestrator/internal/metrics"
	"github.com/streamspace/browser-orchestrator/internal/model"
	"github.com/streamspace/browser-orchestrator/internal/profile"
	"github.com/streamspace/browser-orchestrator/internal/secrets"
	"github.com/streamspace/browser-orchestrator/internal/session"
	"github.com/streamspace/browser-orchestrator/internal/vision"
)

const (
	exitOK             = 0
	exitFatalInit      = 1
	exitInvalidConfig  = 2
	artifactSweepEvery = "@every 10m"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		return exitInvalidConfig
	}

	logging.Init(cfg.LogLevel, cfg.LogPretty)
	log := logging.Component("orchestratord")

	profiles, err := profile.Open(cfg.ProfilesRoot)
	if err != nil {
		log.Error().Err(err).Msg("failed to open profile store")
		return exitFatalInit
	}

	secretStore, err := secrets.Open(cfg.ConsolidatedSecretPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load consolidated secret")
		return exitFatalInit
	}

	bus := eventbus.Connect(cfg.NATSURL)
	defer bus.Close()

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	var uploadBackend artifact.Backend = artifact.NoopBackend{} // no concrete blob-storage SDK is wired in the retrieved pack; see DESIGN.md
	uploadSink := artifact.SinkFunc(func(a model.Artifact) {
		log.Debug().Str("handle", a.Handle).Str("status", string(a.Status)).Msg("artifact upload outcome")
	})
	uploader := artifact.New(uploadBackend, uploadSink, cfg.WorkerPoolSize)
	ledger := artifact.NewLedger(filepath.Join(cfg.ProfilesRoot, "artifact-retry-ledger.jsonl"))
	sweeper := artifact.NewSweeper(uploader, ledger)
	if err := sweeper.Start(artifactSweepEvery); err != nil {
		log.Warn().Err(err).Msg("failed to start artifact retry sweeper")
	}
	defer sweeper.Stop()

	artifactRoot := filepath.Join(cfg.ProfilesRoot, "artifacts")
	store, err := artifact.NewLocalStore(artifactRoot, uploader)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize artifact store")
		return exitFatalInit
	}

	visionProvider := vision.StubProvider{} // no multimodal-LLM HTTP client is wired in the retrieved pack; see DESIGN.md

	var containerLauncher *driver.ContainerLauncher
	if cfg.DriverBackend == "container" {
		containerLauncher, err = driver.NewContainerLauncher(cfg.DockerHost, cfg.DockerNetwork)
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize container launcher")
			return exitFatalInit
		}
		defer containerLauncher.Close()
	}

	factory := newDriverFactory(containerLauncher, log)

	sessions := session.New(profiles, factory, visionProvider, store, time.Duration(cfg.SessionDrainDeadlineSeconds)*time.Second)
	sessions.UseContainerBackend(cfg.DriverBackend == "container")
	if cfg.RedisAddr != "" {
		locker := session.NewDistributedLocker(cfg.RedisAddr)
		sessions.UseDistributedLocker(locker)
		log.Info().Str("redis_addr", cfg.RedisAddr).Msg("using redis-backed distributed profile lock")
	}

	hub := controlplane.NewHub()
	settings := newSettingsStore(cfg)
	server := controlplane.NewServer(sessions, hub, secretStore, uploader, settings)
	server.UseEventBus(bus)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: server.Router()}
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("control plane listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("control plane server exited")
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server exited")
		}
	}()

	bus.Publish("process_started", "", map[string]string{"listen_addr": cfg.ListenAddr})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.SessionDrainDeadlineSeconds+10)*time.Second)
	defer cancel()

	sessions.Shutdown(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	uploader.Close()

	log.Info().Msg("orchestratord stopped")
	return exitOK
}

// newDriverFactory returns a session.DriverFactory that launches a local
// go-rod browser process, or — when useContainer is set (driver_backend
// =container) — spawns a headless-Chromium container, attaches to its CDP
// endpoint (spec.md §3 "attach to existing remote endpoint"), and returns a
// Teardown that stops and removes that container once the session closes.
func newDriverFactory(launcher *driver.ContainerLauncher, log zerolog.Logger) session.DriverFactory {
	return func(ctx context.Context, opts driver.LaunchOptions, useContainer bool) (driver.Adapter, session.Teardown, error) {
		adapter := driver.NewRodAdapter()
		if !useContainer || launcher == nil {
			if err := adapter.Launch(ctx, opts); err != nil {
				return nil, nil, err
			}
			return adapter, nil, nil
		}

		handle, err := launcher.StartBrowserContainer(ctx, fmt.Sprintf("sess-%d", time.Now().UnixNano()), "")
		if err != nil {
			return nil, nil, err
		}
		if err := adapter.Attach(ctx, handle.CDPURL, opts); err != nil {
			if stopErr := launcher.StopBrowserContainer(ctx, handle.ContainerID); stopErr != nil {
				log.Warn().Err(stopErr).Str("container_id", handle.ContainerID).Msg("failed to stop browser container after attach failure")
			}
			return nil, nil, err
		}

		containerID := handle.ContainerID
		teardown := func(tctx context.Context) {
			if err := launcher.StopBrowserContainer(tctx, containerID); err != nil {
				log.Warn().Err(err).Str("container_id", containerID).Msg("failed to stop browser container")
			}
		}
		return adapter, teardown, nil
	}
}
