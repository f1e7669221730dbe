package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/pottypal/pkg/tracing"
	"github.com/NERVsystems/pottypal/pkg/version"
)

// RetryOptions configures retry behavior for HTTP requests
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryOptions keeps total retry time well inside the fetch budget.
var DefaultRetryOptions = RetryOptions{
	MaxAttempts:  3,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
}

// DefaultClient provides a pre-configured HTTP client
var DefaultClient = &http.Client{
	Timeout: 15 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// UserAgent identifies outgoing requests.
func UserAgent() string {
	return "pottypal/" + version.BuildVersion
}

// RedactURL drops credentials carried in the query string so the URL can
// be logged and traced.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		c := *u
		c.RawQuery = q.Encode()
		return c.String()
	}
	return u.String()
}

// retryable reports whether a status is worth another attempt.
func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	}
	return status >= 500
}

// RequestFactory is a function that creates a new HTTP request.
// Requests with bodies must be built through a factory so each attempt
// gets a fresh body.
type RequestFactory func() (*http.Request, error)

// WithRetry performs a body-less request with exponential backoff.
func WithRetry(ctx context.Context, req *http.Request, client *http.Client, options RetryOptions) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody {
		return nil, NewError(ErrInternalError, "cannot retry request with non-nil body").
			WithGuidance("Use a request factory function for requests with bodies")
	}
	return WithRetryFactory(ctx, func() (*http.Request, error) {
		return req.Clone(ctx), nil
	}, client, options)
}

// WithRetryFactory performs HTTP requests created by a factory with retry
// logic. Only network errors, 408, 429 and 5xx responses are retried; any
// other non-200 status fails immediately.
func WithRetryFactory(ctx context.Context, factory RequestFactory, client *http.Client, options RetryOptions) (*http.Response, error) {
	ctx, span := tracing.StartSpan(ctx, "http.request",
		trace.WithAttributes(attribute.Int("http.retry.max_attempts", options.MaxAttempts)),
	)
	defer span.End()

	if client == nil {
		client = DefaultClient
	}
	if options.MaxAttempts < 1 {
		options.MaxAttempts = 1
	}

	logger := slog.Default()
	delay := options.InitialDelay
	var lastErr error

	for attempt := 0; attempt < options.MaxAttempts; attempt++ {
		if attempt > 0 {
			tracing.AddEvent(ctx, "retry_attempt",
				trace.WithAttributes(
					attribute.Int("attempt", attempt+1),
					attribute.Int64("delay_ms", delay.Milliseconds()),
					attribute.String("error", fmt.Sprintf("%v", lastErr)),
				),
			)
			logger.Debug("retrying request",
				"attempt", attempt+1,
				"max_attempts", options.MaxAttempts,
				"delay", delay,
				"last_error", lastErr,
			)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				span.SetStatus(codes.Error, "request cancelled")
				return nil, ctx.Err()
			}

			delay = time.Duration(float64(delay) * options.Multiplier)
			if delay > options.MaxDelay {
				delay = options.MaxDelay
			}
		}

		req, err := factory()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "request creation failed")
			return nil, Wrap(ErrInternalError, err, "failed to create request")
		}
		req = req.WithContext(ctx)
		req.Header.Set("User-Agent", UserAgent())
		target := RedactURL(req.URL)

		resp, err := client.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			span.SetAttributes(
				attribute.String(tracing.AttrHTTPMethod, req.Method),
				attribute.String("http.url", target),
				attribute.Int(tracing.AttrHTTPStatusCode, resp.StatusCode),
				attribute.Int("http.retry.attempts", attempt+1),
			)
			span.SetStatus(codes.Ok, "")
			logger.Debug("request successful", "url", target, "status", resp.StatusCode)
			return resp, nil
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				span.SetStatus(codes.Error, "request cancelled")
				return nil, ctxErr
			}
			lastErr = Wrap(ErrNetworkError, err, "request failed")
			logger.Warn("request failed", "error", err, "attempt", attempt+1, "url", target)
			continue
		}

		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warn("failed to close response body", "error", cerr)
		}
		lastErr = ServiceError("HTTP", resp.StatusCode, fmt.Sprintf("HTTP status %d", resp.StatusCode))
		logger.Warn("request returned error status",
			"status", resp.StatusCode,
			"attempt", attempt+1,
			"url", target,
		)
		if !retryable(resp.StatusCode) {
			span.RecordError(lastErr)
			span.SetStatus(codes.Error, "non-retryable status")
			span.SetAttributes(attribute.Int(tracing.AttrHTTPStatusCode, resp.StatusCode))
			return nil, lastErr
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "max retries exceeded")
	span.SetAttributes(attribute.Int("http.retry.attempts", options.MaxAttempts))

	var coreErr *Error
	if errors.As(lastErr, &coreErr) {
		return nil, coreErr.WithGuidance("Maximum retry attempts reached. " + coreErr.Guidance)
	}
	return nil, NewError(ErrNetworkError, "max retries reached").
		WithGuidance("The request failed after multiple attempts. Please try again later")
}
