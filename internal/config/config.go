// Package config loads orchestratord's process-wide configuration from
// flags with environment-variable fallback, following the teacher's
// getEnv(key, default) idiom.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// Config holds every recognized process-wide option from spec.md §6 plus
// the ambient/domain options SPEC_FULL.md §6 adds.
type Config struct {
	ProfilesRoot              string
	ArtifactBucket            string
	DefaultBrowserChannel     string
	DefaultStepTimeoutSeconds int
	DefaultScriptDeadlineSeconds int
	SessionDrainDeadlineSeconds int
	MaxVisionEscalationsPerScript int
	LLMModel                 string
	ConsolidatedSecretPath   string

	DriverBackend string // local|container
	DockerHost    string
	DockerNetwork string

	NATSURL string

	LogLevel  string
	LogPretty bool

	ListenAddr    string
	MetricsAddr   string
	WorkerPoolSize int

	RedisAddr string
}

// Load parses flags (with env fallback) into a Config and validates it.
// A validation error should cause the caller to exit with code 2 (spec.md
// §6 "2 invalid configuration"); an unwritable profiles_root or missing
// driver at later startup should exit 1 ("1 fatal initialization error").
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("orchestratord", flag.ContinueOnError)

	cfg := &Config{}
	fs.StringVar(&cfg.ProfilesRoot, "profiles-root", getEnv("PROFILES_ROOT", "./browser-profiles"), "profile store root directory")
	fs.StringVar(&cfg.ArtifactBucket, "artifact-bucket", getEnv("ARTIFACT_BUCKET", ""), "blob storage bucket for artifacts; empty disables uploads")
	fs.StringVar(&cfg.DefaultBrowserChannel, "default-browser-channel", getEnv("DEFAULT_BROWSER_CHANNEL", defaultChannel()), "default browser channel")
	fs.IntVar(&cfg.DefaultStepTimeoutSeconds, "default-step-timeout", getEnvInt("DEFAULT_STEP_TIMEOUT", 60), "default step timeout in seconds")
	fs.IntVar(&cfg.DefaultScriptDeadlineSeconds, "default-script-deadline", getEnvInt("DEFAULT_SCRIPT_DEADLINE", 1800), "default script deadline in seconds")
	fs.IntVar(&cfg.SessionDrainDeadlineSeconds, "session-drain-deadline", getEnvInt("SESSION_DRAIN_DEADLINE", 30), "shutdown drain deadline in seconds")
	fs.IntVar(&cfg.MaxVisionEscalationsPerScript, "max-vision-escalations-per-script", getEnvInt("MAX_VISION_ESCALATIONS_PER_SCRIPT", 50), "safety cap on vision-tier calls per script")
	fs.StringVar(&cfg.LLMModel, "llm-model", getEnv("LLM_MODEL", ""), "identifier used by vision escalation tiers")
	fs.StringVar(&cfg.ConsolidatedSecretPath, "consolidated-secret-path", getEnv("CONSOLIDATED_SECRET_PATH", ""), "path to the consolidated per-tool credential secret")

	fs.StringVar(&cfg.DriverBackend, "driver-backend", getEnv("DRIVER_BACKEND", "local"), "browser driver backend: local|container")
	fs.StringVar(&cfg.DockerHost, "docker-host", getEnv("DOCKER_HOST", "unix:///var/run/docker.sock"), "docker host (container backend only)")
	fs.StringVar(&cfg.DockerNetwork, "docker-network", getEnv("DOCKER_NETWORK", "orchestrator"), "docker network name (container backend only)")

	fs.StringVar(&cfg.NATSURL, "nats-url", getEnv("NATS_URL", ""), "NATS server URL; empty disables the event bus")

	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "log level")
	fs.BoolVar(&cfg.LogPretty, "log-pretty", getEnvBool("LOG_PRETTY", false), "use pretty console log output")

	fs.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", ":8080"), "control plane listen address")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", getEnv("METRICS_ADDR", ":9090"), "prometheus metrics listen address")
	fs.IntVar(&cfg.WorkerPoolSize, "worker-pool-size", getEnvInt("WORKER_POOL_SIZE", 6), "artifact uploader worker pool size")

	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", ""), "redis address for distributed profile locks; empty uses an in-process lock table")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DriverBackend != "local" && c.DriverBackend != "container" {
		return fmt.Errorf("driver-backend must be local or container, got %q", c.DriverBackend)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("worker-pool-size must be >= 1")
	}
	if c.DefaultStepTimeoutSeconds < 1 {
		return fmt.Errorf("default-step-timeout must be >= 1")
	}
	return nil
}

func defaultChannel() string {
	// The teacher picks no OS-specific default for browser channel selection
	// anywhere in the pack; "chrome" is the conservative, universally
	// available choice across the supported platforms.
	return "chrome"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
