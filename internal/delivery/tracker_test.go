package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTracker(t *testing.T, h http.HandlerFunc) *HTTPTracker {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPTracker(srv.URL, time.Second, 0, zap.NewNop())
}

func TestTrackParsesReport(t *testing.T) {
	tr := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tracking/dhl/JD014600006281230704", r.URL.Path)
		_, _ = io.WriteString(w, `{"status":"Delivered","details":"left at door",
			"proof":"QmSignedPod","updated_at":"2026-10-02T09:30:00Z"}`)
	})

	rep, err := tr.Track(context.Background(), "DHL", "JD014600006281230704")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDelivered, rep.Status)
	assert.Equal(t, "QmSignedPod", rep.Proof)
	assert.Equal(t, "DHL", rep.Carrier)
	assert.Equal(t, time.Date(2026, 10, 2, 9, 30, 0, 0, time.UTC), rep.UpdatedAt)
}

func TestTrackMapsUnknownStatus(t *testing.T) {
	tr := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"held_at_customs"}`)
	})
	rep, err := tr.Track(context.Background(), "ups", "1Z999")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryUnknown, rep.Status)
	assert.False(t, rep.UpdatedAt.IsZero())
}

func TestTrackErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		target error
	}{
		{"unknown code", http.StatusNotFound, apperr.ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, apperr.ErrNetwork},
		{"server error", http.StatusBadGateway, apperr.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := tr.Track(context.Background(), "dhl", "x")
			assert.ErrorIs(t, err, tt.target)
		})
	}

	tr := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err := tr.Track(context.Background(), "dhl", "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrNetwork)
}

func TestProofHashIsStable(t *testing.T) {
	r := Report{Carrier: "DHL", TrackingCode: "JD1", Status: models.DeliveryDelivered, Proof: "pod",
		UpdatedAt: time.Date(2026, 10, 2, 9, 30, 0, 0, time.UTC)}

	same := r
	same.Carrier = "dhl"
	same.UpdatedAt = r.UpdatedAt.In(time.FixedZone("BRT", -3*3600))
	assert.Equal(t, ProofHash(r), ProofHash(same))
	assert.Len(t, ProofHash(r), 64)

	other := r
	other.Proof = "forged"
	assert.NotEqual(t, ProofHash(r), ProofHash(other))
}
