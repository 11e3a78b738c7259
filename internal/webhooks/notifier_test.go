package webhooks_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/DocumentChain/internal/webhooks"
)

const testEvent = "chain.test"

func TestDispatch_signsAndPosts(t *testing.T) {
	var (
		mu   sync.Mutex
		got  webhooks.Event
		sig  string
		body []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get(webhooks.SignatureHeader)
		_ = json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	n := webhooks.NewNotifier([]string{srv.URL}, "topsecret", zap.NewNop())
	n.Dispatch(context.Background(), webhooks.EventIntegrityCompromised, json.RawMessage(`{"sequence":4}`))
	n.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, webhooks.EventIntegrityCompromised, got.Type)
	assert.JSONEq(t, `{"sequence":4}`, string(got.Details))
	assert.Equal(t, webhooks.Sign(body, []byte("topsecret")), sig)
	assert.Contains(t, sig, "sha256=")
}

func TestDispatch_retriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	var successes, failures atomic.Int32
	n := webhooks.NewNotifier([]string{srv.URL}, "", zap.NewNop(),
		webhooks.WithRetryDelays([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}))
	n.SetMetricsRecorder(func(ok bool) {
		if ok {
			successes.Add(1)
		} else {
			failures.Add(1)
		}
	})

	n.Dispatch(context.Background(), testEvent, nil)
	n.Wait()

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(2), failures.Load())
}

func TestDispatch_survivesCallerCancellation(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	n := webhooks.NewNotifier([]string{srv.URL, srv.URL}, "", zap.NewNop())
	n.Dispatch(ctx, testEvent, nil)
	cancel()
	n.Wait()

	require.Equal(t, int32(2), calls.Load())
}

func TestSign_noSecret(t *testing.T) {
	assert.Empty(t, webhooks.Sign([]byte("x"), nil))
}
