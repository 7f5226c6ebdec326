// Package llm provides a client for OpenAI-compatible completion servers hosting the local causal model.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"baguette-chat-go/internal/prompt"
	"baguette-chat-go/pkg/log"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrStopped 由 onFragment 返回时表示调用方主动结束流，不视为错误。
var ErrStopped = errors.New("llm: stream stopped by consumer")

// Client defines the interface for a completion backend bound to one model.
type Client interface {
	// StreamCompletion 以原始文本 prompt 调用补全接口，每收到一个片段调用一次 onFragment。
	// 特殊标记不会被跳过。
	StreamCompletion(ctx context.Context, prompt string, params prompt.GenerationParams, onFragment func(string) error) error
	// CountTokens 返回文本的 token 数，不添加特殊 token。
	CountTokens(ctx context.Context, text string) (int, error)
	// Model 返回客户端绑定的模型名。
	Model() string
}

type completionClient struct {
	model      string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	tokenCache *expirable.LRU[string, int]
}

type completionRequest struct {
	Model             string   `json:"model"`
	Prompt            string   `json:"prompt"`
	Stream            bool     `json:"stream"`
	MaxTokens         int      `json:"max_tokens"`
	Temperature       float64  `json:"temperature"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	RepetitionPenalty float64  `json:"repetition_penalty"`
	SkipSpecialTokens bool     `json:"skip_special_tokens"`
}

type completionChunk struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

func (c *completionClient) Model() string { return c.model }

func buildCompletionRequest(model, text string, params prompt.GenerationParams) completionRequest {
	req := completionRequest{
		Model:             model,
		Prompt:            text,
		Stream:            true,
		MaxTokens:         params.MaxNewTokens,
		RepetitionPenalty: params.RepetitionPenalty,
		SkipSpecialTokens: false,
	}
	// 贪心解码用 temperature=0 表达
	if params.DoSample && params.Temperature != nil {
		req.Temperature = *params.Temperature
		req.TopP = params.TopP
		req.TopK = params.TopK
	}
	return req
}

// StreamCompletion calls /completions with stream=true and reads SSE data lines until [DONE].
func (c *completionClient) StreamCompletion(ctx context.Context, text string, params prompt.GenerationParams, onFragment func(string) error) error {
	reqBytes, err := json.Marshal(buildCompletionRequest(c.model, text, params))
	if err != nil {
		return fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call completion api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("completion api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return fmt.Errorf("failed to read from stream: %w", readErr)
		}
		// 流可能在没有换行的最后一行处结束，先处理再判断 EOF
		done, err := handleStreamLine(line, onFragment)
		if err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}
		if done || readErr == io.EOF {
			return nil
		}
	}
}

// handleStreamLine 处理一行 SSE 数据，遇到 [DONE] 时返回 true。
func handleStreamLine(line string, onFragment func(string) error) (bool, error) {
	if !strings.HasPrefix(line, "data: ") {
		return false, nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
	if data == "[DONE]" {
		return true, nil
	}

	var chunk completionChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		log.Warnf("[LLMClient] 无法解析流式分块: %v, data: %s", err, data)
		return false, nil
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Text == "" {
		return false, nil
	}
	return false, onFragment(chunk.Choices[0].Text)
}

type tokenizeRequest struct {
	Model            string `json:"model"`
	Prompt           string `json:"prompt"`
	AddSpecialTokens bool   `json:"add_special_tokens"`
}

type tokenizeResponse struct {
	Count  int   `json:"count"`
	Tokens []int `json:"tokens"`
}

// CountTokens calls the server's /tokenize endpoint; results are memoised per model and text hash.
func (c *completionClient) CountTokens(ctx context.Context, text string) (int, error) {
	sum := sha256.Sum256([]byte(text))
	key := c.model + ":" + hex.EncodeToString(sum[:])
	if c.tokenCache != nil {
		if n, ok := c.tokenCache.Get(key); ok {
			return n, nil
		}
	}

	reqBytes, err := json.Marshal(tokenizeRequest{Model: c.model, Prompt: text})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tokenize request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenizeURL(c.baseURL), bytes.NewReader(reqBytes))
	if err != nil {
		return 0, fmt.Errorf("failed to create tokenize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to call tokenize api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("tokenize api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var tr tokenizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return 0, fmt.Errorf("failed to decode tokenize response: %w", err)
	}
	n := tr.Count
	if n == 0 {
		n = len(tr.Tokens)
	}
	if c.tokenCache != nil {
		c.tokenCache.Add(key, n)
	}
	return n, nil
}

// tokenizeURL /tokenize 挂在服务根路径上，而不是 /v1 之下。
func tokenizeURL(baseURL string) string {
	return strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/v1") + "/tokenize"
}
