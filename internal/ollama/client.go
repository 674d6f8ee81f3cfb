package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// 后端错误按种类区分，上层据此生成用户可读的提示文案。
var (
	ErrUnavailable   = errors.New("ollama is not reachable")
	ErrModelNotFound = errors.New("model not found")
	ErrTimeout       = errors.New("request timed out")
	ErrEmptyResponse = errors.New("empty response from ollama")
)

// 流式回复末尾附加的排版提示，与既有前端的渲染约定一致。
const markdownHint = "\n\nPlease format your response with proper markdown when appropriate."

// Client 封装对 Ollama /api/generate 的流式与一次性补全调用。
type Client struct {
	url     string
	model   string
	timeout time.Duration
	idle    time.Duration
	hc      *http.Client
}

func NewClient(url, model string, timeout time.Duration) *Client {
	return &Client{
		url:     url,
		model:   model,
		timeout: timeout,
		idle:    2 * time.Minute,
		hc: &http.Client{
			// 流式响应没有总时长上限，仅约束拿到响应头之前的等待。
			Transport: &http.Transport{ResponseHeaderTimeout: 2 * time.Minute},
		},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Complete 发起非流式补全，带固定超时，用于 REST 接口。
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, generateRequest{Model: c.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out generateChunk
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", ErrEmptyResponse
	}
	return out.Response, nil
}

// CompleteStreaming 逐行读取 NDJSON 流，每个增量回调一次 onChunk，
// 返回后端汇总的完整文本。取消通过 ctx 在块间协作传播，
// 流在两个块之间闲置超过 idle 上限时按超时中止。
func (c *Client) CompleteStreaming(ctx context.Context, prompt string, onChunk func(string)) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var idleFired atomic.Bool
	watchdog := time.AfterFunc(c.idle, func() {
		idleFired.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	resp, err := c.post(ctx, generateRequest{Model: c.model, Prompt: prompt + markdownHint, Stream: true})
	if err != nil {
		if idleFired.Load() {
			return "", fmt.Errorf("%w: stream idle", ErrTimeout)
		}
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		watchdog.Reset(c.idle)
		if ctx.Err() != nil {
			if idleFired.Load() {
				return full.String(), fmt.Errorf("%w: stream idle", ErrTimeout)
			}
			return full.String(), ctx.Err()
		}
		var chunk generateChunk
		if err := json.Unmarshal(sc.Bytes(), &chunk); err != nil {
			// 跳过流中的非 JSON 行
			continue
		}
		if chunk.Response != "" {
			full.WriteString(chunk.Response)
			onChunk(chunk.Response)
		}
		if chunk.Done {
			return full.String(), nil
		}
	}
	if err := sc.Err(); err != nil {
		if idleFired.Load() {
			return full.String(), fmt.Errorf("%w: stream idle", ErrTimeout)
		}
		if ctx.Err() != nil {
			return full.String(), ctx.Err()
		}
		return full.String(), fmt.Errorf("read stream: %w", err)
	}
	return full.String(), nil
}

// ListModels 查询 /api/tags，用于启动探测与连通性测试接口。
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tagsURL(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, c.classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama tags status %d", resp.StatusCode)
	}
	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Model 返回配置的模型名，供提示文案与探测逻辑复用。
func (c *Client) Model() string { return c.model }

func (c *Client) tagsURL() string {
	return strings.TrimSuffix(c.url, "/api/generate") + "/api/tags"
}

func (c *Client) post(ctx context.Context, body generateRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, c.classify(err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, c.model)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// classify 把传输层错误映射到稳定的错误种类，取消原样透传。
func (c *Client) classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
