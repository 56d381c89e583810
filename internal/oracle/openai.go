package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/vyuha/server/internal/config"
)

// ErrNoAPIKey is returned when the configured key variable is empty.
var ErrNoAPIKey = errors.New("oracle api key not set")

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	cfg    config.OracleConfig
	apiKey string
	http   *http.Client
	log    *zap.Logger
}

func NewOpenAI(cfg config.OracleConfig, log *zap.Logger) (*OpenAI, error) {
	key := cfg.APIKey()
	if key == "" {
		return nil, fmt.Errorf("%w: $%s", ErrNoAPIKey, cfg.APIKeyEnv)
	}
	return &OpenAI{
		cfg:    cfg,
		apiKey: key,
		http:   &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	body := chatRequest{
		Model: o.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}
	if req.Temperature > 0 {
		body.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	var content string
	backoff := retry.WithMaxRetries(2, retry.WithJitter(200*time.Millisecond, retry.NewExponential(500*time.Millisecond)))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := o.post(ctx, payload)
		if err != nil {
			return err
		}
		content = c
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

func (o *OpenAI) post(ctx context.Context, payload []byte) (string, error) {
	url := strings.TrimRight(o.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", retry.RetryableError(fmt.Errorf("chat request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", retry.RetryableError(fmt.Errorf("read chat response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		o.log.Warn("oracle transient failure", zap.Int("status", resp.StatusCode))
		return "", retry.RetryableError(fmt.Errorf("chat status %d", resp.StatusCode))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode chat response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("chat status %d: %s", resp.StatusCode, msg)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chat response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}
