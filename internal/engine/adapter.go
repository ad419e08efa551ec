package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ReplyRequest is the normalized request sent to the automated reply engine.
type ReplyRequest struct {
	SessionID   string `json:"session_id"`
	TurnID      string `json:"turn_id"`
	RequesterID string `json:"requester_id,omitempty"`
	InputText   string `json:"input_text"`
	Locale      string `json:"locale,omitempty"`
	Anonymous   bool   `json:"anonymous,omitempty"`
}

// ReplyResponse carries the engine's answer text.
type ReplyResponse struct {
	Text string `json:"text"`
}

// Adapter connects the handoff service to the automated reply engine.
type Adapter interface {
	Reply(ctx context.Context, req ReplyRequest) (ReplyResponse, error)
}

// Config controls adapter construction.
type Config struct {
	Mode       string
	HTTPURL    string
	Timeout    time.Duration
	MaxRetries int
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPAdapter(cfg.HTTPURL, cfg.Timeout, cfg.MaxRetries), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("engine HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL, cfg.Timeout, cfg.MaxRetries), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported engine adapter mode %q", cfg.Mode)
	}
}
