package engine

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter produces deterministic local replies when no engine endpoint is
// configured. It keeps development and tests independent of the real engine.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Reply(ctx context.Context, req ReplyRequest) (ReplyResponse, error) {
	select {
	case <-ctx.Done():
		return ReplyResponse{}, ctx.Err()
	default:
	}

	text := strings.TrimSpace(req.InputText)
	if text == "" {
		return ReplyResponse{Text: "I'm here and listening."}, nil
	}
	return ReplyResponse{Text: fmt.Sprintf("I hear you: %s", text)}, nil
}
