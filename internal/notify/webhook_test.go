package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paybyt/escrowd/internal/events"
	"github.com/paybyt/escrowd/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fastPolicy = retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxElapsed: time.Second}

func statusEvent() events.Event {
	return events.Event{Type: events.EventEscrowStatusChanged, Payload: map[string]any{
		"escrow_id":  "e-1",
		"buyer_id":   "buyer",
		"seller_id":  "seller",
		"new_status": "completed",
	}}
}

func TestBuildAddressesBothParties(t *testing.T) {
	n, ok := Build(statusEvent())
	require.True(t, ok)
	assert.Equal(t, "e-1", n.EscrowID)
	assert.Equal(t, []string{"buyer", "seller"}, n.Recipients)
	assert.Equal(t, "Escrow status changed to completed.", n.Text)
}

func TestBuildSkipsEventsWithoutParties(t *testing.T) {
	_, ok := Build(events.Event{Type: events.EventEscrowCreated, Payload: map[string]any{"escrow_id": "e-1"}})
	assert.False(t, ok)
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewForwarder(srv.URL, time.Second, fastPolicy, zap.NewNop())
	n, _ := Build(statusEvent())
	require.NoError(t, f.Send(context.Background(), n))

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, events.EventEscrowStatusChanged, got.Type)
	assert.Equal(t, []string{"buyer", "seller"}, got.Recipients)
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	f := NewForwarder(srv.URL, time.Second, fastPolicy, zap.NewNop())
	n, _ := Build(statusEvent())
	require.Error(t, f.Send(context.Background(), n))
	assert.Equal(t, int32(1), calls.Load())
}
