package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hookline/hookline/internal/event"
	"github.com/hookline/hookline/internal/ledger"
	"github.com/hookline/hookline/internal/signature"
	"github.com/hookline/hookline/internal/subscription"
)

// Standard headers sent with every delivery. The signature header is
// always computed last and can not be overridden by subscription headers.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
)

const (
	// maxResponseBytes bounds what we persist from subscriber responses.
	maxResponseBytes = 10 * 1024
	// maxErrorBodyBytes bounds the body excerpt embedded in error messages.
	maxErrorBodyBytes = 500
)

// Options tune the shared HTTP client.
type Options struct {
	UserAgent      string
	MaxRedirects   int           // redirect hops before the attempt fails
	DefaultTimeout time.Duration // used when a subscription has no timeout
	MaxConnections int           // cap on concurrent outbound connections
}

// Dispatcher performs single webhook delivery attempts. One instance is
// shared by all workers; the underlying client pools and caps outbound
// connections globally.
type Dispatcher struct {
	client         *http.Client
	userAgent      string
	defaultTimeout time.Duration
}

func New(opts Options) *Dispatcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "Hookline-Webhooks/1.0"
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 5
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 10 * time.Second
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 100
	}

	transport := &http.Transport{
		MaxConnsPerHost:     opts.MaxConnections,
		MaxIdleConns:        opts.MaxConnections,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	maxRedirects := opts.MaxRedirects
	client := &http.Client{
		Transport: otelhttp.NewTransport(transport),
		// Redirects are followed, but bounded, and only to http/https
		// targets: an attacker-controlled subscriber must not be able to
		// bounce deliveries to arbitrary schemes or redirect forever.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
			}
			return nil
		},
	}

	return &Dispatcher{
		client:         client,
		userAgent:      opts.UserAgent,
		defaultTimeout: opts.DefaultTimeout,
	}
}

// Deliver performs one HTTP POST attempt for the payload to the
// subscription's URL and returns the normalized attempt record plus a
// failure-reason tag for metrics ("" on success). HTTP-level failures are
// reported inside the attempt, never as an error; the error return is
// reserved for programming and configuration problems (unencodable
// payload, malformed URL).
func (d *Dispatcher) Deliver(ctx context.Context, sub *subscription.Subscription, payload event.Payload, attemptNumber int) (*ledger.Attempt, string, error) {
	body, err := payload.CanonicalJSON()
	if err != nil {
		return nil, "", fmt.Errorf("encode payload for subscription %s: %w", sub.ID, err)
	}
	if _, err := url.ParseRequestURI(sub.URL); err != nil {
		return nil, "", fmt.Errorf("invalid subscription URL %q: %w", sub.URL, err)
	}

	headers := d.buildHeaders(sub, payload.EventType, body)

	timeout := sub.RequestTimeout()
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	attempt := &ledger.Attempt{
		SubscriptionID: sub.ID,
		EventID:        payload.EventID,
		EventType:      payload.EventType,
		Payload:        body,
		URL:            sub.URL,
		Headers:        headers,
		CreatedAt:      start.UTC(),
		AttemptNumber:  attemptNumber,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("build request for %q: %w", sub.URL, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, doErr := d.client.Do(req)
	attempt.DurationMS = time.Since(start).Milliseconds()

	if doErr != nil {
		attempt.Success = false
		attempt.ErrorMessage = transportError(doErr, timeout)
		return attempt, classifyReason(doErr, 0), nil
	}
	defer resp.Body.Close()

	respBody := readBounded(resp.Body, maxResponseBytes)
	deliveredAt := time.Now().UTC()
	code := resp.StatusCode

	attempt.StatusCode = &code
	attempt.ResponseBody = respBody
	attempt.DeliveredAt = &deliveredAt

	if code >= 200 && code < 300 {
		attempt.Success = true
		return attempt, "", nil
	}

	attempt.Success = false
	attempt.ErrorMessage = fmt.Sprintf("HTTP %d: %s", code, truncate(respBody, maxErrorBodyBytes))
	return attempt, classifyReason(nil, code), nil
}

// buildHeaders assembles the outbound header set: standard headers first,
// subscription custom headers overlaid, signature last so it wins.
func (d *Dispatcher) buildHeaders(sub *subscription.Subscription, eventType string, body []byte) map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
		"User-Agent":   d.userAgent,
		HeaderEvent:    eventType,
		HeaderDelivery: uuid.NewString(),
	}
	for k, v := range sub.Headers {
		if http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(HeaderSignature) {
			continue
		}
		headers[k] = v
	}
	headers[HeaderSignature] = signature.Sign(body, sub.Secret)
	return headers
}

// TestResult is the outcome of a diagnostic delivery. It never touches
// the ledger or subscription counters.
type TestResult struct {
	Success      bool   `json:"success"`
	StatusCode   *int   `json:"status_code"`
	ResponseBody string `json:"response_body,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
}

// Test sends a ping payload to an arbitrary URL and reports the outcome.
// Same request path as Deliver minus persistence and signing (there is no
// subscription, hence no secret).
func (d *Dispatcher) Test(ctx context.Context, rawURL string, headers map[string]string, timeout time.Duration) TestResult {
	payload := event.NewPayload("test.ping", map[string]any{
		"message": "hookline connectivity test",
		"test":    true,
	}, "hookline")

	body, err := payload.CanonicalJSON()
	if err != nil {
		return TestResult{Success: false, ErrorMessage: err.Error()}
	}

	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return TestResult{Success: false, ErrorMessage: fmt.Sprintf("invalid url: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set(HeaderEvent, payload.EventType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, doErr := d.client.Do(req)
	duration := time.Since(start).Milliseconds()
	if doErr != nil {
		return TestResult{
			Success:      false,
			ErrorMessage: transportError(doErr, timeout),
			DurationMS:   duration,
		}
	}
	defer resp.Body.Close()

	respBody := readBounded(resp.Body, maxErrorBodyBytes*2)
	code := resp.StatusCode
	result := TestResult{
		StatusCode:   &code,
		ResponseBody: respBody,
		DurationMS:   duration,
	}
	if code >= 200 && code < 300 {
		result.Success = true
	} else {
		result.ErrorMessage = fmt.Sprintf("HTTP %d: %s", code, truncate(respBody, maxErrorBodyBytes))
	}
	return result
}

func readBounded(r io.Reader, limit int) string {
	b, _ := io.ReadAll(io.LimitReader(r, int64(limit)))
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func transportError(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("request timeout after %s", timeout)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return fmt.Sprintf("request timeout after %s", timeout)
	}
	return err.Error()
}

// classifyReason tags a failed attempt for retry/DLQ metrics.
func classifyReason(doErr error, status int) string {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		switch {
		case errors.Is(doErr, context.DeadlineExceeded) || strings.Contains(errLower, "timeout"):
			return "timeout"
		case strings.Contains(errLower, "connection refused"):
			return "connection_refused"
		case strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns"):
			return "dns_error"
		default:
			return "network"
		}
	}
	switch {
	case status >= 500:
		return "http_5xx"
	case status == http.StatusTooManyRequests:
		return "http_429"
	case status >= 400:
		return "http_4xx"
	default:
		return "other"
	}
}
