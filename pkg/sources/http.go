package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// maxBodyBytes caps how much of a response is read into memory.
const maxBodyBytes = 16 << 20

// endpoint holds what every HTTP-backed source needs to issue a GET.
type endpoint struct {
	// URL is the endpoint to call (required).
	URL string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	// Logger is optional; if nil slog.Default() is used.
	Logger *slog.Logger
}

// get issues one GET request and returns the body of a 2xx response.
// Every attempt carries its own X-Request-ID for correlation with the backend.
func (e *endpoint) get(ctx context.Context, source string) ([]byte, error) {
	if err := validateURL(e.URL); err != nil {
		return nil, &RequestError{Source: source, Err: err}
	}

	cli := e.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: DefaultTimeout}
	}
	logger := e.logger()

	requestID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL, nil)
	if err != nil {
		return nil, &RequestError{Source: source, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := cli.Do(req)
	if err != nil {
		logger.Debug("source request failed",
			"source", source,
			"request_id", requestID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return nil, fmt.Errorf("%s: http request: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		logger.Debug("source returned error status",
			"source", source,
			"request_id", requestID,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, &StatusError{Source: source, Code: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", source, err)
	}
	if len(body) == 0 {
		return nil, &ParseError{Source: source, Err: errors.New("empty body")}
	}

	logger.Debug("source response",
		"source", source,
		"request_id", requestID,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
		"body", excerpt(body, 1024),
	)

	return body, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

func (e *endpoint) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func excerpt(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
