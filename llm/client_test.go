package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Coldaine/repo-analysis-suite/model"
)

const chatBody = `{
	"model": "test-model",
	"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12}
}`

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 1.0,
		MaxBackoff:        time.Millisecond,
	}
}

func registryFor(t *testing.T, urls ...string) *model.Registry {
	t.Helper()
	r := model.NewRegistry()
	names := make([]string, 0, len(urls))
	for i, u := range urls {
		name := string(rune('a' + i))
		require.NoError(t, r.AddEndpoint(name, model.EndpointConfig{Model: "test-model", URL: u}))
		names = append(names, name)
	}
	require.NoError(t, r.SetChain(model.CapabilityFast, names))
	return r
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts, "attempts must match the resolver's retry contract")
	assert.Equal(t, time.Second, cfg.BackoffBase)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.Equal(t, 16*time.Second, cfg.MaxBackoff)
}

func TestCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatBody))
	}))
	defer srv.Close()

	client := NewClient(registryFor(t, srv.URL), WithRetryConfig(fastRetry()))
	resp, err := client.Complete(context.Background(), Request{
		Capability: "fast",
		Messages:   []Message{{Role: "user", Content: "hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
	assert.NotEmpty(t, resp.RequestID)
}

func TestCompleteRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(chatBody))
	}))
	defer srv.Close()

	client := NewClient(registryFor(t, srv.URL), WithRetryConfig(fastRetry()))
	resp, err := client.Complete(context.Background(), Request{
		Capability: "fast",
		Messages:   []Message{{Role: "user", Content: "hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.EqualValues(t, 3, calls.Load())
}

func TestCompleteFallsBackToNextEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatBody))
	}))
	defer good.Close()

	client := NewClient(registryFor(t, bad.URL, good.URL), WithRetryConfig(fastRetry()))
	resp, err := client.Complete(context.Background(), Request{
		Capability: "fast",
		Messages:   []Message{{Role: "user", Content: "hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
}

func TestCompleteFatalErrorStopsFallback(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(registryFor(t, srv.URL, srv.URL), WithRetryConfig(fastRetry()))
	_, err := client.Complete(context.Background(), Request{
		Capability: "fast",
		Messages:   []Message{{Role: "user", Content: "hi"}},
	})

	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.EqualValues(t, 1, calls.Load(), "fatal errors must not be retried or failed over")
}

func TestCompleteValidation(t *testing.T) {
	client := NewClient(model.NewRegistry())

	_, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	assert.Error(t, err, "missing capability")

	_, err = client.Complete(context.Background(), Request{Capability: "fast"})
	assert.Error(t, err, "missing messages")
}
