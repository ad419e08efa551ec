package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/haven/internal/reliability"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	retryBackoffBase   = 200 * time.Millisecond
	retryBackoffCap    = 2 * time.Second
)

// HTTPAdapter forwards requests to a reply-engine HTTP endpoint. Retryable
// statuses are retried with capped exponential backoff.
type HTTPAdapter struct {
	url        string
	maxRetries int
	client     *http.Client
}

func NewHTTPAdapter(url string, timeout time.Duration, maxRetries int) *HTTPAdapter {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &HTTPAdapter{
		url:        strings.TrimSpace(url),
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAdapter) Reply(ctx context.Context, req ReplyRequest) (ReplyResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return ReplyResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ReplyResponse{}, ctx.Err()
			case <-time.After(reliability.Backoff(attempt-1, retryBackoffBase, retryBackoffCap)):
			}
		}

		resp, retryable, err := a.replyOnce(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return ReplyResponse{}, lastErr
}

func (a *HTTPAdapter) replyOnce(ctx context.Context, payload []byte) (ReplyResponse, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return ReplyResponse{}, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ReplyResponse{}, false, ctx.Err()
		}
		return ReplyResponse{}, true, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		err := fmt.Errorf("engine http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
		return ReplyResponse{}, reliability.IsRetryableHTTPStatus(res.StatusCode), err
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return ReplyResponse{}, true, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		// Plain-text endpoints answer with the reply as the whole body.
		text := strings.TrimSpace(string(body))
		return ReplyResponse{Text: text}, false, nil
	}
	return ReplyResponse{Text: extractText(obj)}, false, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "reply", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
