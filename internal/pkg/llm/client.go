package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Options 单次补全的生成参数
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Message 对话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// LLMError 调用模型服务失败
type LLMError struct {
	StatusCode int
	Message    string
	Transient  bool
	Err        error
}

func (e *LLMError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("llm error: status=%d message=%s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("llm error: status=%d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("llm error: %v", e.Err)
	}
	return "llm error: " + e.Message
}

func (e *LLMError) Unwrap() error { return e.Err }

// IsTransient 判断错误是否值得重试
func IsTransient(err error) bool {
	var le *LLMError
	if errors.As(err, &le) {
		return le.Transient
	}
	return false
}

// Client OpenAI 兼容的 chat completions 客户端
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	defaultModel string
}

// NewClient 创建客户端，timeout 为单次 HTTP 请求的超时
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		defaultModel: model,
	}
}

// Complete 发送单轮提示并返回补全文本
func (c *Client) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if c.baseURL == "" {
		return "", &LLMError{Message: "base url is not configured"}
	}
	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return "", &LLMError{Message: "model is not configured"}
	}

	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", &LLMError{Err: ctx.Err(), Transient: false}
		}
		return "", &LLMError{Err: err, Transient: isRetryableNetErr(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &LLMError{Err: fmt.Errorf("read response: %w", err), Transient: true}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &LLMError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
			Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &LLMError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return "", &LLMError{Message: "no choices in response"}
	}
	return out.Choices[0].Message.Content, nil
}

func errorMessage(body []byte) string {
	var raw struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &raw) == nil && raw.Error.Message != "" {
		return raw.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func isRetryableNetErr(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}
