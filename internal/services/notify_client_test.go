package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chris-briden/edc-exchange-sub000/internal/events"
	"github.com/chris-briden/edc-exchange-sub000/internal/retry"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(retries uint64) retry.Policy {
	return retry.Policy{MaxRetries: retries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestNotifyClientForwardsEvent(t *testing.T) {
	var got notification
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/notify", r.URL.Path)
		key = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewNotifyClient(srv.URL+"/", time.Second, fastPolicy(2), zap.NewNop())
	err := c.Forward(context.Background(), events.Event{
		ID:      "evt-1",
		Type:    events.EventDepositReleased,
		Payload: map[string]any{"transaction_id": "t-1"},
	})
	require.NoError(t, err)
	require.Equal(t, "evt-1", key)
	require.Equal(t, events.EventDepositReleased, got.Type)
	require.Equal(t, "t-1", got.Payload["transaction_id"])
}

func TestNotifyClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewNotifyClient(srv.URL, time.Second, fastPolicy(3), zap.NewNop())
	require.NoError(t, c.Forward(context.Background(), events.Event{ID: "evt-2", Type: events.EventListingSold}))
	require.Equal(t, int32(3), calls.Load())
}

func TestNotifyClientDoesNotRetryRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewNotifyClient(srv.URL, time.Second, fastPolicy(3), zap.NewNop())
	err := c.Forward(context.Background(), events.Event{ID: "evt-3", Type: events.EventListingSold})
	require.ErrorIs(t, err, errDispatcherRejected)
	require.Equal(t, int32(1), calls.Load())
}
