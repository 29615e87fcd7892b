package judge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ExecuteCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req ExecuteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "python", req.Language)
		assert.Len(t, req.TestCases, 2)

		_ = json.NewEncoder(w).Encode(ExecuteResult{
			Status:          StatusAccepted,
			PassedTests:     2,
			ExecutionTimeMs: 12,
			MemoryUsedKb:    2048,
			TestResults:     []TestResult{{Index: 0, Passed: true}, {Index: 1, Passed: true}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL + "/")
	result, err := client.ExecuteCode(context.Background(), ExecuteRequest{
		Code:     "def main(): pass",
		Language: "python",
		TestCases: []TestCase{
			{Input: "1", ExpectedOutput: "1"},
			{Input: "2", ExpectedOutput: "2"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, result.Status)
	assert.Equal(t, 2, result.PassedTests)
	assert.Equal(t, 2, result.TotalTests, "total falls back to the number of test cases sent")
	assert.Len(t, result.TestResults, 2)
}

func TestClient_ExecuteCode_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantErr: ErrJudgeUnavailable,
		},
		{
			name: "rejected request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "unsupported language", http.StatusBadRequest)
			},
			wantErr: ErrJudgeBadResponse,
		},
		{
			name: "missing status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"passedTests":1}`))
			},
			wantErr: ErrJudgeBadResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewClient(srv.URL).ExecuteCode(context.Background(), ExecuteRequest{Code: "x", Language: "python"})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_ExecuteCode_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL).ExecuteCode(ctx, ExecuteRequest{Code: "x", Language: "python"})
	assert.ErrorIs(t, err, ErrJudgeUnavailable)
}
