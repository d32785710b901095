package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/funcrun/funcrun/pkg/runtime"
	"github.com/funcrun/funcrun/pkg/utils"
)

type EmulatorConfig struct {
	General struct {
		Handler     string        `env:"_HANDLER"`
		CodeDir     string        `env:"LAMBDA_TASK_ROOT"`
		RuntimeAPI  string        `env:"AWS_LAMBDA_RUNTIME_API"`
		IdleTimeout time.Duration `env:"FUNCRUN_IDLE_TIMEOUT"`
	}
	Log struct {
		Level    string `env:"LOG_LEVEL"`
		Format   string `env:"LOG_FORMAT"`
		FilePath string `env:"LOG_FILE"`
	}
}

func parseArgs() (ec EmulatorConfig) {
	env := runtime.ConfigFromEnv()

	flag.StringVar(&(ec.General.Handler), "handler", env.Handler, "Handler locator, e.g. api/hello.Handler. (Env: _HANDLER)")
	flag.StringVar(&(ec.General.CodeDir), "code-dir", env.CodeDir, "Directory holding compiled handler modules. (Env: LAMBDA_TASK_ROOT)")
	flag.StringVar(&(ec.General.RuntimeAPI), "runtime-api", env.RuntimeAPI, "Control endpoint base URL. (Env: AWS_LAMBDA_RUNTIME_API)")
	flag.DurationVar(&(ec.General.IdleTimeout), "idle-timeout", env.IdleTimeout, "Idle window before the process exits, 0 for the default 900s. (Env: FUNCRUN_IDLE_TIMEOUT)")
	flag.StringVar(&(ec.Log.Level), "log-level", "info", "Log level (debug, info, warn, error) (Env: LOG_LEVEL)")
	flag.StringVar(&(ec.Log.Format), "log-format", "text", "Log format (text, json, dev) (Env: LOG_FORMAT)")
	flag.StringVar(&(ec.Log.FilePath), "log-file", "", "Log file path (defaults to stdout) (Env: LOG_FILE)")

	flag.Parse()
	return
}

func main() {
	ec := parseArgs()

	if ec.General.Handler == "" || ec.General.RuntimeAPI == "" {
		fmt.Fprintln(os.Stderr, "both -handler and -runtime-api must be provided")
		os.Exit(1)
	}

	logger := utils.SetupLogger(ec.Log.Level, ec.Log.Format, ec.Log.FilePath)
	logger.Info("Current configuration", "config", ec)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runtime.New(runtime.Config{
		Handler:     ec.General.Handler,
		CodeDir:     ec.General.CodeDir,
		RuntimeAPI:  ec.General.RuntimeAPI,
		IdleTimeout: ec.General.IdleTimeout,
	}, logger)

	if err := r.Run(sigCtx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("shutting down")
			return
		}
		logger.Error("runtime stopped", "error", err)
		os.Exit(1)
	}
}
