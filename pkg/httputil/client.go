package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RequestConfig holds configuration for outgoing HTTP requests.
type RequestConfig struct {
	Logger          *zap.Logger
	Client          *http.Client
	Headers         map[string][]string
	ResponseHandler func(*http.Response) error
	Method          string
	URL             string
	Timeout         time.Duration
	MaxRetries      uint64
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	RetryEnabled    bool
}

// DefaultRequestConfig returns a RequestConfig with sensible defaults.
func DefaultRequestConfig(method, url string) RequestConfig {
	return RequestConfig{
		Method:         method,
		URL:            url,
		Timeout:        5 * time.Second,
		RetryEnabled:   true,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Logger:         zap.NewNop(),
	}
}

// Response is a fully read HTTP response.
type Response struct {
	Headers    http.Header
	Body       []byte
	StatusCode int
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, e.Body)
}

// Request performs an HTTP request, retrying with exponential backoff on
// transport errors and 5xx or 429 responses. Other 4xx responses are not
// retried. The last response is returned alongside any error.
func Request(ctx context.Context, config RequestConfig, payload any) (*Response, error) {
	var body []byte
	if payload != nil {
		switch v := payload.(type) {
		case []byte:
			body = v
		case string:
			body = []byte(v)
		default:
			var err error
			if body, err = json.Marshal(payload); err != nil {
				return nil, fmt.Errorf("failed to marshal payload: %w", err)
			}
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	var response *Response
	attempt := 0

	operation := func() error {
		attempt++
		if attempt > 1 {
			logger.Debug("retrying request", zap.String("url", config.URL), zap.Int("attempt", attempt))
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, config.Method, config.URL, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		for key, values := range config.Headers {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
		if body != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		response = &Response{StatusCode: resp.StatusCode, Body: respBody, Headers: resp.Header}

		if config.ResponseHandler != nil {
			if err := config.ResponseHandler(resp); err != nil {
				return err
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := &StatusError{StatusCode: resp.StatusCode, Body: respBody}
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	var err error
	if config.RetryEnabled {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = config.InitialBackoff
		b.MaxInterval = config.MaxBackoff
		err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, config.MaxRetries), ctx))
	} else {
		err = operation()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}

	if err != nil {
		logger.Warn("request failed", zap.String("url", config.URL), zap.Error(err))
		return response, err
	}
	return response, nil
}
