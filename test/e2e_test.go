package test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funcrun/funcrun/pkg/controlplane"
	"github.com/funcrun/funcrun/pkg/runtime"
	"github.com/funcrun/funcrun/pkg/runtime/handler"
)

const TIMEOUT = 5 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// startEmulator runs a full emulator against an in-process control endpoint:
// real HTTP client, real invocation loop, handler resolved from a registry.
func startEmulator(t *testing.T, registry *handler.Registry, locator string) *controlplane.Server {
	t.Helper()

	server := controlplane.NewServer(testLogger())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := runtime.New(runtime.Config{
		Handler:    locator,
		CodeDir:    t.TempDir(),
		RuntimeAPI: ts.URL,
	}, testLogger())
	h, err := registry.Load(mustParse(t, locator), "")
	require.NoError(t, err)
	r.SetHandler(h)
	r.SetExitFunc(func(code int) { cancel() })

	go func() {
		if runErr := r.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			t.Errorf("runtime stopped unexpectedly: %v", runErr)
		}
	}()

	return server
}

func mustParse(t *testing.T, locator string) handler.Reference {
	t.Helper()
	ref, err := handler.ParseLocator(locator)
	require.NoError(t, err)
	return ref
}

func TestInvocationRoundTrip(t *testing.T) {
	registry := handler.NewRegistry()
	registry.Register("api/hello.handler", func(ctx context.Context, event json.RawMessage) (any, error) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(event, &req); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	server := startEmulator(t, registry, "api/hello.handler")

	ctx, cancel := context.WithTimeout(context.Background(), TIMEOUT)
	defer cancel()

	outcome, err := server.Invoke(ctx, "hello", []byte(`{"name":"x"}`))
	require.NoError(t, err)
	require.Nil(t, outcome.Error)
	assert.JSONEq(t, `{"ok":true}`, string(outcome.Response))
	assert.Empty(t, server.Violations())
}

func TestSequentialInvocations(t *testing.T) {
	registry := handler.NewRegistry()
	registry.Register("api/echo.handler", func(ctx context.Context, event json.RawMessage) (any, error) {
		return event, nil
	})

	server := startEmulator(t, registry, "api/echo.handler")

	ctx, cancel := context.WithTimeout(context.Background(), TIMEOUT)
	defer cancel()

	for _, payload := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		outcome, err := server.Invoke(ctx, "echo", []byte(payload))
		require.NoError(t, err)
		require.Nil(t, outcome.Error)
		assert.JSONEq(t, payload, string(outcome.Response))
	}
	assert.Empty(t, server.Violations())
}

func TestHandlerErrorRoundTripAndRecovery(t *testing.T) {
	registry := handler.NewRegistry()
	registry.Register("api/flaky.handler", func(ctx context.Context, event json.RawMessage) (any, error) {
		if string(event) == `"boom"` {
			return nil, errors.New("flaky handler failed")
		}
		return "recovered", nil
	})

	server := startEmulator(t, registry, "api/flaky.handler")

	ctx, cancel := context.WithTimeout(context.Background(), TIMEOUT)
	defer cancel()

	outcome, err := server.Invoke(ctx, "flaky", []byte(`"boom"`))
	require.NoError(t, err)
	require.NotNil(t, outcome.Error)
	assert.Equal(t, "Error", outcome.Error.ErrorType)
	assert.Equal(t, "flaky handler failed", outcome.Error.ErrorMessage)

	// the loop survives the handler error and serves the next invocation
	outcome, err = server.Invoke(ctx, "flaky", []byte(`"fine"`))
	require.NoError(t, err)
	require.Nil(t, outcome.Error)
	assert.JSONEq(t, `"recovered"`, string(outcome.Response))
	assert.Empty(t, server.Violations())
}

func TestHandlerResolvedFromDefaultRegistry(t *testing.T) {
	handler.Register("registered/greet.handler", func(ctx context.Context, event json.RawMessage) (any, error) {
		return map[string]string{"greeting": "hi"}, nil
	})

	server := controlplane.NewServer(testLogger())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// no SetHandler: resolution goes through the compiled dispatch registry
	r := runtime.New(runtime.Config{
		Handler:    "registered/greet.handler",
		CodeDir:    t.TempDir(),
		RuntimeAPI: ts.URL,
	}, testLogger())
	r.SetExitFunc(func(code int) { cancel() })

	go func() {
		if runErr := r.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			t.Errorf("runtime stopped unexpectedly: %v", runErr)
		}
	}()

	invokeCtx, invokeCancel := context.WithTimeout(context.Background(), TIMEOUT)
	defer invokeCancel()

	outcome, err := server.Invoke(invokeCtx, "greet", []byte("{}"))
	require.NoError(t, err)
	require.Nil(t, outcome.Error)
	assert.JSONEq(t, `{"greeting":"hi"}`, string(outcome.Response))
	assert.Empty(t, server.Violations())
}

func TestStartupFailureReportsInitErrorWithoutPolling(t *testing.T) {
	server := controlplane.NewServer(testLogger())
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	r := runtime.New(runtime.Config{
		Handler:    "api/missing.handler",
		CodeDir:    t.TempDir(),
		RuntimeAPI: ts.URL,
	}, testLogger())

	var exitCode = -1
	r.SetExitFunc(func(code int) { exitCode = code })

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, exitCode)

	require.Len(t, server.InitErrors(), 1)
	assert.Contains(t, server.InitErrors()[0].ErrorMessage, "api/missing.handler")
	assert.Empty(t, server.Violations())
}
