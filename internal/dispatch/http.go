package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	logx "beatd/pkg/logx"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// httpDispatcher posts requests to the runtime's HTTP gateway.
//
// Transient failures (network errors, 5xx, 429) are retried with bounded
// backoff inside the client; other 4xx statuses come back immediately as
// *RejectedError.
type httpDispatcher struct {
	endpoint string
	token    string
	client   *retryablehttp.Client
	log      logx.Logger
}

func newHTTPDispatcher(cfg Config, log logx.Logger) (*httpDispatcher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("dispatch.endpoint is required for the http driver")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New("dispatch.endpoint must be an absolute http(s) URL")
	}

	httpClient := cleanhttp.DefaultPooledClient()
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}
	client := &retryablehttp.Client{
		HTTPClient:   httpClient,
		RetryWaitMin: cfg.RetryWaitMin,
		RetryWaitMax: cfg.RetryWaitMax,
		RetryMax:     cfg.RetryMax,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
		Logger:       retryLogger{log: log},
	}
	return &httpDispatcher{endpoint: endpoint, token: cfg.AuthToken, client: client, log: log}, nil
}

func (d *httpDispatcher) Dispatch(ctx context.Context, r Request) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", r.Task, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	reason := readReason(resp.Body)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &RejectedError{Status: resp.StatusCode, Reason: reason}
	}
	return fmt.Errorf("dispatch %s: gateway status %d: %s", r.Task, resp.StatusCode, reason)
}

func readReason(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// retryLogger feeds the retry client's leveled key/value logging into
// logx.
type retryLogger struct{ log logx.Logger }

func (l retryLogger) Error(msg string, kv ...any) { l.log.Error(msg, kvFields(kv)...) }
func (l retryLogger) Warn(msg string, kv ...any)  { l.log.Warn(msg, kvFields(kv)...) }
func (l retryLogger) Info(msg string, kv ...any)  { l.log.Info(msg, kvFields(kv)...) }
func (l retryLogger) Debug(msg string, kv ...any) { l.log.Debug(msg, kvFields(kv)...) }

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
