// Package ai implements the analysis, relevance, grouping and narrative
// services on an OpenAI-compatible chat completion API.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/metrics"
	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

// ErrEmptyResponse is returned when the model produced no usable content.
var ErrEmptyResponse = errors.New("empty ai response")

// Config selects the model and sampling parameters.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
}

// completer is the subset of the chat completion service used here.
type completer interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client implements every AI collaborator contract. All calls share one
// Pacer so the configured inter-call delay holds process-wide.
type Client struct {
	cfg         Config
	completions completer
	pacer       *Pacer
	logger      *zap.Logger
}

var (
	_ monitor.Analyzer       = (*Client)(nil)
	_ monitor.RelevanceJudge = (*Client)(nil)
	_ monitor.TagGrouper     = (*Client)(nil)
	_ monitor.Narrator       = (*Client)(nil)
)

// New builds a Client backed by the OpenAI SDK.
func New(cfg Config, pacer *Pacer, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ai api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	c := openai.NewClient(opts...)
	return NewWithCompleter(cfg, &c.Chat.Completions, pacer, logger), nil
}

// NewWithCompleter builds a Client over an arbitrary completer (used by tests).
func NewWithCompleter(cfg Config, completions completer, pacer *Pacer, logger *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, completions: completions, pacer: pacer, logger: logger.Named("ai")}
}

// complete paces, sends one system+user exchange and returns the raw reply text.
func (c *Client) complete(ctx context.Context, op, system, user string) (string, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return "", err
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(c.cfg.Temperature),
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.cfg.MaxTokens)
	}
	start := time.Now()
	resp, err := c.completions.New(ctx, params)
	if err == nil && (resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "") {
		err = ErrEmptyResponse
	}
	metrics.ObserveAICall(op, err)
	if err != nil {
		c.logger.Warn("ai call failed", zap.String("op", op), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return "", fmt.Errorf("%s request: %w", op, err)
	}
	c.logger.Debug("ai call completed", zap.String("op", op), zap.Duration("elapsed", time.Since(start)))
	return resp.Choices[0].Message.Content, nil
}

// completeJSON is complete followed by JSON extraction from the reply.
func (c *Client) completeJSON(ctx context.Context, op, system, user string) (gjson.Result, error) {
	text, err := c.complete(ctx, op, system, user)
	if err != nil {
		return gjson.Result{}, err
	}
	doc, ok := extractJSON(text)
	if !ok {
		return gjson.Result{}, fmt.Errorf("%s response is not json", op)
	}
	return doc, nil
}

// extractJSON finds the outermost JSON value in text, tolerating code
// fences and prose around it.
func extractJSON(text string) (gjson.Result, bool) {
	s := strings.TrimSpace(text)
	if gjson.Valid(s) {
		return gjson.Parse(s), true
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(s, pair[0])
		end := strings.LastIndex(s, pair[1])
		if start >= 0 && end > start {
			if candidate := s[start : end+1]; gjson.Valid(candidate) {
				return gjson.Parse(candidate), true
			}
		}
	}
	return gjson.Result{}, false
}
