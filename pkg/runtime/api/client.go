// Package api implements the client side of the Lambda runtime control
// protocol: long-polling for the next invocation and posting results and
// errors back, with the exact header names and error body shape of the real
// runtime API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/funcrun/funcrun/pkg/utils"
)

// APIVersion is the path version segment of the runtime control protocol.
const APIVersion = "2018-06-01"

const (
	HeaderRequestID          = "Lambda-Runtime-Aws-Request-Id"
	HeaderInvokedFunctionArn = "Lambda-Runtime-Invoked-Function-Arn"
)

// ResponseRetryDelay is the fixed wait between attempts to deliver an
// invocation response. A computed result is never dropped, so delivery retries
// until the control endpoint accepts it.
const ResponseRetryDelay = 500 * time.Millisecond

// HTTPClient can perform any http request
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Invocation is one unit of work handed out by the control endpoint. Exactly
// one is alive at a time: it is created on a successful poll and consumed by a
// single handler call.
type Invocation struct {
	RequestID          string
	InvokedFunctionArn string
	Payload            []byte
}

// Client wraps http calls to the runtime control endpoint.
type Client struct {
	endpoint   string
	client     HTTPClient
	logger     *slog.Logger
	retryDelay time.Duration
}

// NewClient creates a Client with a default http client. The endpoint is the
// control endpoint base URL, e.g. "http://127.0.0.1:9001".
func NewClient(endpoint string, logger *slog.Logger) *Client {
	return NewClientWithHTTPClient(endpoint, logger, &http.Client{})
}

// NewClientWithHTTPClient creates a Client with a caller-supplied http client.
func NewClientWithHTTPClient(endpoint string, logger *slog.Logger, httpClient HTTPClient) *Client {
	return &Client{
		endpoint:   endpoint,
		client:     httpClient,
		logger:     logger,
		retryDelay: ResponseRetryDelay,
	}
}

func (c *Client) url(suffix string) string {
	return fmt.Sprintf("%s/%s/runtime/%s", c.endpoint, APIVersion, suffix)
}

// NextInvocation polls the control endpoint for the next invocation. The call
// blocks until the endpoint hands out work. Transport failures are returned to
// the caller, who retries immediately: a blocked poll with no work and a
// temporarily unreachable endpoint look the same from here.
func (c *Client) NextInvocation(ctx context.Context) (*Invocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("invocation/next"), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("next invocation failed with status code: %d", resp.StatusCode)
	}

	requestID := resp.Header.Get(HeaderRequestID)
	if requestID == "" {
		return nil, fmt.Errorf("next invocation response is missing header %s", HeaderRequestID)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Invocation{
		RequestID:          requestID,
		InvokedFunctionArn: resp.Header.Get(HeaderInvokedFunctionArn),
		Payload:            payload,
	}, nil
}

// PostInitError reports a startup failure. One shot: a delivery failure is
// logged and swallowed, the process is exiting either way.
func (c *Client) PostInitError(ctx context.Context, report *ErrorReport) {
	if err := c.postJSON(ctx, c.url("init/error"), report); err != nil {
		c.logger.Error("failed to deliver init error report", "error", err)
	}
}

// PostInvocationError reports a handler failure for one invocation. Best
// effort: delivered once, the loop proceeds regardless of the outcome.
func (c *Client) PostInvocationError(ctx context.Context, requestID string, report *ErrorReport) {
	if err := c.postJSON(ctx, c.url("invocation/"+requestID+"/error"), report); err != nil {
		c.logger.Error("failed to deliver invocation error report", "requestId", requestID, "error", err)
	}
}

// PostInvocationResponse delivers a successful handler result. It retries with
// a fixed delay until the POST succeeds or the context is cancelled, logging
// each failed attempt: a successful result must never be silently lost.
func (c *Client) PostInvocationResponse(ctx context.Context, requestID string, body []byte) error {
	url := c.url("invocation/" + requestID + "/response")
	attempt := 0
	return utils.RetryFixedDelay(ctx, func() error {
		attempt++
		return c.post(ctx, url, body)
	}, c.retryDelay, func(err error) {
		c.logger.Warn("failed to deliver invocation response, retrying",
			"requestId", requestID,
			"attempt", attempt,
			"delay", c.retryDelay,
			"error", err)
	})
}

func (c *Client) postJSON(ctx context.Context, url string, report *ErrorReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("error marshaling error report: %w", err)
	}
	return c.post(ctx, url, body)
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("POST request failed with status code: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Error("error closing the response body", "error", err)
	}
}
