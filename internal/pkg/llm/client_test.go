package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Complete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Salaries rise with age."}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "test-key", "gpt-4o-mini", time.Second)
	out, err := c.Complete(context.Background(), "describe", Options{Temperature: 0.2, MaxTokens: 128})
	require.NoError(t, err)

	assert.Equal(t, "Salaries rise with age.", out)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, 128, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "describe", got.Messages[0].Content)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"unauthorized", http.StatusUnauthorized, false},
		{"bad request", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "k", "m", time.Second).Complete(context.Background(), "p", Options{})
			var le *LLMError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, tt.status, le.StatusCode)
			assert.Equal(t, "nope", le.Message)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestClient_Misconfigured(t *testing.T) {
	_, err := NewClient("", "k", "m", 0).Complete(context.Background(), "p", Options{})
	var le *LLMError
	assert.True(t, errors.As(err, &le))

	_, err = NewClient("http://127.0.0.1:1", "k", "", 0).Complete(context.Background(), "p", Options{})
	assert.True(t, errors.As(err, &le))
}

func TestClient_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", "m", time.Second).Complete(context.Background(), "p", Options{})
	var le *LLMError
	require.True(t, errors.As(err, &le))
	assert.False(t, le.Transient)
}
