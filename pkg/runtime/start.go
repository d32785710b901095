package runtime

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/funcrun/funcrun/pkg/runtime/handler"
	"github.com/funcrun/funcrun/pkg/utils"
)

// Environment variables read by ConfigFromEnv. The names match the managed
// execution environment so a handler binary runs unchanged in both places.
const (
	EnvRuntimeAPI  = "AWS_LAMBDA_RUNTIME_API"
	EnvHandler     = "_HANDLER"
	EnvTaskRoot    = "LAMBDA_TASK_ROOT"
	EnvIdleTimeout = "FUNCRUN_IDLE_TIMEOUT"
)

// ConfigFromEnv builds a Config from the environment.
func ConfigFromEnv() Config {
	cfg := Config{
		Handler:    os.Getenv(EnvHandler),
		CodeDir:    os.Getenv(EnvTaskRoot),
		RuntimeAPI: os.Getenv(EnvRuntimeAPI),
	}
	if v, ok := os.LookupEnv(EnvIdleTimeout); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IdleTimeout = d
		}
	}
	return cfg
}

// Start runs the invocation loop for a handler linked into the binary,
// configured from the environment. It is the entrypoint used by the bundled
// example functions: a function binary built around Start behaves exactly
// like one whose handler is resolved from the code directory.
func Start(h handler.Handler) {
	cfg := ConfigFromEnv()
	logger := utils.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Getenv("LOG_FILE"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := New(cfg, logger)
	r.SetHandler(h)
	if err := r.Run(ctx); err != nil {
		logger.Error("runtime stopped", "error", err)
	}
}
