// Package runtime emulates the invocation life-cycle of a managed serverless
// execution environment for a single handler: it long-polls the control
// endpoint for one invocation at a time, calls the handler, delivers the
// result or error, and terminates the process after a bounded idle window.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/funcrun/funcrun/pkg/runtime/api"
	"github.com/funcrun/funcrun/pkg/runtime/handler"
)

// DefaultIdleTimeout matches the idle window after which a real execution
// environment freezes and recycles an instance.
const DefaultIdleTimeout = 900 * time.Second

// State is the phase the runtime is in. Transitions are strictly sequential:
// there is never more than one invocation alive.
type State string

const (
	StateInitializing       State = "Initializing"
	StateAwaitingInvocation State = "AwaitingInvocation"
	StateInvoking           State = "Invoking"
	StateResponding         State = "Responding"
)

// Config is the startup configuration of the emulator. It is supplied once
// and immutable for the process lifetime.
type Config struct {
	// Handler is the handler locator, e.g. "api/hello.Handler".
	Handler string
	// CodeDir is the directory holding compiled handler modules.
	CodeDir string
	// RuntimeAPI is the control endpoint base URL.
	RuntimeAPI string
	// IdleTimeout is the idle window before the process exits. Zero means
	// DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// ControlClient is the set of control-protocol operations the loop needs.
type ControlClient interface {
	NextInvocation(ctx context.Context) (*api.Invocation, error)
	PostInitError(ctx context.Context, report *api.ErrorReport)
	PostInvocationError(ctx context.Context, requestID string, report *api.ErrorReport)
	PostInvocationResponse(ctx context.Context, requestID string, body []byte) error
}

// Runtime runs the invocation loop for one resolved handler.
type Runtime struct {
	cfg      Config
	client   ControlClient
	resolver *handler.Resolver
	handler  handler.Handler
	logger   *slog.Logger
	exit     func(int)
	state    State
}

// New builds a Runtime that resolves its handler from cfg at Run time, first
// against the compiled-in registry and then against plugins in cfg.CodeDir.
func New(cfg Config, logger *slog.Logger) *Runtime {
	r := NewWithClient(cfg, api.NewClient(cfg.RuntimeAPI, logger), logger)
	r.resolver = handler.NewResolver(cfg.CodeDir, handler.DefaultRegistry, handler.PluginLoader{})
	return r
}

// NewWithClient builds a Runtime on a caller-supplied control client.
func NewWithClient(cfg Config, client ControlClient, logger *slog.Logger) *Runtime {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Runtime{
		cfg:    cfg,
		client: client,
		logger: logger,
		exit:   os.Exit,
		state:  StateInitializing,
	}
}

// SetHandler bypasses resolution and installs the handler directly. Must be
// called before Run.
func (r *Runtime) SetHandler(h handler.Handler) {
	r.handler = h
}

// SetExitFunc overrides process termination. Used by tests to observe exit
// codes without killing the test binary.
func (r *Runtime) SetExitFunc(fn func(int)) {
	r.exit = fn
}

// Run resolves the handler if needed and drives the invocation loop until the
// idle watchdog terminates the process or ctx is cancelled. A handler that can
// not be resolved is reported once via the init-error operation, then the
// process exits with code 1 without ever polling.
func (r *Runtime) Run(ctx context.Context) error {
	if r.handler == nil {
		h, err := r.resolver.Resolve(r.cfg.Handler)
		if err != nil {
			r.logger.Error("handler resolution failed", "handler", r.cfg.Handler, "error", err)
			r.client.PostInitError(ctx, api.NewErrorReport(err))
			r.exit(1)
			return err
		}
		r.handler = h
	}
	r.logger.Info("handler resolved, entering invocation loop",
		"handler", r.cfg.Handler,
		"idle_timeout", r.cfg.IdleTimeout)

	wd := newWatchdog(r.cfg.IdleTimeout, func() {
		r.logger.Info("idle timeout reached, shutting down", "idle_timeout", r.cfg.IdleTimeout)
		r.exit(0)
	})
	defer wd.Stop()

	r.setState(StateAwaitingInvocation)
	for {
		inv, err := r.client.NextInvocation(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The control endpoint is a trusted local service: retry the
			// poll immediately, nothing is surfaced.
			r.logger.Debug("poll failed, retrying", "error", err)
			continue
		}
		wd.Reset()
		r.handleInvocation(ctx, inv)
		// Re-entry into AwaitingInvocation re-arms the full idle window:
		// handler execution time is not charged against it.
		wd.Reset()
		r.setState(StateAwaitingInvocation)
	}
}

// handleInvocation runs one invocation to terminal delivery. Handler errors
// and panics are per-invocation: they are reported and the loop continues.
func (r *Runtime) handleInvocation(ctx context.Context, inv *api.Invocation) {
	r.setState(StateInvoking)
	r.logger.Debug("invoking handler", "requestId", inv.RequestID, "arn", inv.InvokedFunctionArn)

	hctx := lambdacontext.NewContext(ctx, &lambdacontext.LambdaContext{
		AwsRequestID:       inv.RequestID,
		InvokedFunctionArn: inv.InvokedFunctionArn,
	})
	result, report := r.callHandler(hctx, inv.Payload)

	r.setState(StateResponding)
	if report != nil {
		r.logger.Warn("handler failed", "requestId", inv.RequestID, "errorMessage", report.ErrorMessage)
		r.client.PostInvocationError(ctx, inv.RequestID, report)
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		r.logger.Warn("handler result is not serializable", "requestId", inv.RequestID, "error", err)
		r.client.PostInvocationError(ctx, inv.RequestID, api.NewErrorReport(err))
		return
	}

	if err := r.client.PostInvocationResponse(ctx, inv.RequestID, body); err != nil {
		// Only reachable on context cancellation: delivery itself retries
		// until the endpoint accepts the response.
		r.logger.Error("response delivery abandoned", "requestId", inv.RequestID, "error", err)
	}
}

// callHandler invokes the handler, converting a returned error or a panic
// into an error report.
func (r *Runtime) callHandler(ctx context.Context, payload []byte) (result any, report *api.ErrorReport) {
	defer func() {
		if v := recover(); v != nil {
			result = nil
			report = api.NewPanicReport(fmt.Sprintf("handler panicked: %v", v), debug.Stack())
		}
	}()

	res, err := r.handler(ctx, json.RawMessage(payload))
	if err != nil {
		return nil, api.NewErrorReport(err)
	}
	return res, nil
}

func (r *Runtime) setState(s State) {
	r.state = s
	r.logger.Debug("state transition", "state", s)
}
