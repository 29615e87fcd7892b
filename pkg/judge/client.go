package judge

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

	"github.com/rl-arena/code-arena-backend/pkg/logger"
)

var (
	ErrJudgeUnavailable = errors.New("judge unavailable")
	ErrJudgeBadResponse = errors.New("judge returned an invalid response")
)

// Status 채점기가 돌려주는 실행 결과 상태
type Status string

const (
	StatusAccepted          Status = "accepted"
	StatusWrongAnswer       Status = "wrong_answer"
	StatusRuntimeError      Status = "runtime_error"
	StatusTimeLimitExceeded Status = "time_limit_exceeded"
	StatusCompileError      Status = "compile_error"
)

type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
}

type TestResult struct {
	Index           int    `json:"index"`
	Passed          bool   `json:"passed"`
	ExecutionTimeMs int    `json:"executionTimeMs"`
	MemoryUsedKb    int    `json:"memoryUsedKb"`
	Error           string `json:"error,omitempty"`
}

// ExecuteRequest 채점기에 보낼 요청
type ExecuteRequest struct {
	Code          string     `json:"code"`
	Language      string     `json:"language"`
	TestCases     []TestCase `json:"testCases"`
	TimeLimitMs   int        `json:"timeLimitMs,omitempty"`
	MemoryLimitKb int        `json:"memoryLimitKb,omitempty"`
}

// ExecuteResult 채점기로부터 받는 응답
type ExecuteResult struct {
	Status          Status       `json:"status"`
	TestResults     []TestResult `json:"testResults"`
	PassedTests     int          `json:"passedTests"`
	TotalTests      int          `json:"totalTests"`
	ExecutionTimeMs int          `json:"executionTimeMs"`
	MemoryUsedKb    int          `json:"memoryUsedKb"`
	Error           string       `json:"error,omitempty"`
}

// Client 외부 채점기 HTTP 클라이언트
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 채점기 클라이언트 생성
// 개별 호출의 시간 제한은 호출자의 context가 결정한다.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// ExecuteCode 코드 실행 및 채점 요청
func (c *Client) ExecuteCode(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJudgeUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrJudgeUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrJudgeBadResponse, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result ExecuteResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJudgeBadResponse, err)
	}
	if result.Status == "" {
		return nil, fmt.Errorf("%w: missing status", ErrJudgeBadResponse)
	}
	if result.TotalTests == 0 {
		result.TotalTests = len(req.TestCases)
	}

	logger.Debug("Judge execution completed",
		"language", req.Language,
		"status", result.Status,
		"passed", result.PassedTests,
		"total", result.TotalTests,
		"elapsed", time.Since(started),
	)

	return &result, nil
}

// HealthCheck 채점기 상태 확인
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJudgeUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrJudgeUnavailable, resp.StatusCode)
	}
	return nil
}
