// Package controlplane implements the control endpoint half of the runtime
// protocol: it queues invocation payloads, hands them out one at a time over
// the long-poll endpoint, and pairs each response or error report back to the
// caller that submitted the event. It exists so the emulator can be exercised
// locally without a managed cloud environment.
package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/funcrun/funcrun/pkg/runtime/api"
)

const (
	// InvokeAPIVersion is the path version segment of the invoke surface,
	// mirroring the Lambda Invoke API.
	InvokeAPIVersion = "2015-03-31"

	// HeaderFunctionError marks an invoke response that carries a handler
	// error report instead of a result.
	HeaderFunctionError = "X-Amz-Function-Error"
)

const queueSize = 100

// Outcome is the terminal result of one invocation: exactly one of Response
// and Error is set.
type Outcome struct {
	Response []byte
	Error    *api.ErrorReport
}

type pendingInvocation struct {
	requestID    string
	functionName string
	payload      []byte
	done         chan Outcome
}

// Server is the control endpoint. It enforces the protocol's single-flight
// guarantee: a second poll while an invocation is outstanding is rejected and
// recorded as a violation.
type Server struct {
	logger *slog.Logger
	queue  chan *pendingInvocation

	mu          sync.Mutex
	outstanding map[string]*pendingInvocation
	inFlight    bool
	pollers     int
	violations  []string
	initErrors  []*api.ErrorReport
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{
		logger:      logger,
		queue:       make(chan *pendingInvocation, queueSize),
		outstanding: make(map[string]*pendingInvocation),
	}
}

// Invoke queues an event for the named function and blocks until the runtime
// delivers its response or error report.
func (s *Server) Invoke(ctx context.Context, functionName string, payload []byte) (Outcome, error) {
	p := &pendingInvocation{
		requestID:    uuid.NewString(),
		functionName: functionName,
		payload:      payload,
		done:         make(chan Outcome, 1),
	}

	select {
	case s.queue <- p:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	select {
	case outcome := <-p.done:
		return outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Violations returns the protocol violations observed so far, e.g. a poll
// issued while another invocation was still outstanding.
func (s *Server) Violations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.violations...)
}

// InitErrors returns the init error reports received so far.
func (s *Server) InitErrors() []*api.ErrorReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*api.ErrorReport(nil), s.initErrors...)
}

// Handler returns the HTTP surface of the control endpoint. The runtime-facing
// routes are registered both with and without the protocol version segment.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, prefix := range []string{"/" + api.APIVersion, ""} {
		mux.HandleFunc("GET "+prefix+"/runtime/invocation/next", s.handleNext)
		mux.HandleFunc("POST "+prefix+"/runtime/invocation/{requestId}/response", s.handleResponse)
		mux.HandleFunc("POST "+prefix+"/runtime/invocation/{requestId}/error", s.handleError)
		mux.HandleFunc("POST "+prefix+"/runtime/init/error", s.handleInitError)
	}
	mux.HandleFunc("POST /"+InvokeAPIVersion+"/functions/{name}/invocations", s.handleInvoke)
	return mux
}

// Run serves the control endpoint on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("control endpoint listening", "address", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.inFlight || s.pollers > 0 {
		reason := "poll received while an invocation was outstanding"
		if !s.inFlight {
			reason = "poll received while another poll was already waiting"
		}
		s.violations = append(s.violations, reason)
		s.mu.Unlock()
		s.logger.Error("protocol violation: " + reason)
		http.Error(w, "invocation already outstanding", http.StatusConflict)
		return
	}
	s.pollers++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.pollers--
		s.mu.Unlock()
	}()

	select {
	case p := <-s.queue:
		s.mu.Lock()
		if s.inFlight {
			s.violations = append(s.violations, "invocation handed out while another was outstanding")
			s.mu.Unlock()
			s.logger.Error("protocol violation: invocation handed out while another was outstanding")
			s.queue <- p
			http.Error(w, "invocation already outstanding", http.StatusConflict)
			return
		}
		s.inFlight = true
		s.outstanding[p.requestID] = p
		s.mu.Unlock()

		w.Header().Set(api.HeaderRequestID, p.requestID)
		w.Header().Set(api.HeaderInvokedFunctionArn, functionArn(p.functionName))
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(p.payload); err != nil {
			s.logger.Error("failed to write invocation payload", "requestId", p.requestID, "error", err)
		}
		s.logger.Debug("handed out invocation", "requestId", p.requestID, "function", p.functionName)
	case <-r.Context().Done():
		// Poller went away while parked, nothing was handed out.
	}
}

func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	s.complete(w, r.PathValue("requestId"), Outcome{Response: body})
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	var report api.ErrorReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, "failed to decode error report", http.StatusBadRequest)
		return
	}
	s.complete(w, r.PathValue("requestId"), Outcome{Error: &report})
}

// complete pairs a terminal delivery back to the waiting Invoke call. An
// unknown or out-of-order request id is a protocol violation.
func (s *Server) complete(w http.ResponseWriter, requestID string, outcome Outcome) {
	s.mu.Lock()
	p, ok := s.outstanding[requestID]
	if !ok {
		s.violations = append(s.violations, fmt.Sprintf("delivery for unknown request id %s", requestID))
		s.mu.Unlock()
		s.logger.Error("delivery for unknown request id", "requestId", requestID)
		http.Error(w, "unknown request id", http.StatusBadRequest)
		return
	}
	delete(s.outstanding, requestID)
	s.inFlight = false
	s.mu.Unlock()

	p.done <- outcome
	w.WriteHeader(http.StatusAccepted)
	s.logger.Debug("invocation completed", "requestId", requestID, "errored", outcome.Error != nil)
}

func (s *Server) handleInitError(w http.ResponseWriter, r *http.Request) {
	var report api.ErrorReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, "failed to decode error report", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.initErrors = append(s.initErrors, &report)
	s.mu.Unlock()
	s.logger.Error("runtime reported init error", "errorMessage", report.ErrorMessage)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	outcome, err := s.Invoke(r.Context(), r.PathValue("name"), payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if outcome.Error != nil {
		w.Header().Set(HeaderFunctionError, "Unhandled")
		if err := json.NewEncoder(w).Encode(outcome.Error); err != nil {
			s.logger.Error("failed to encode error report", "error", err)
		}
		return
	}
	if _, err := w.Write(outcome.Response); err != nil {
		s.logger.Error("failed to write invoke response", "error", err)
	}
}

func functionArn(name string) string {
	return "arn:aws:lambda:local:000000000000:function:" + name
}
