// Package delivery queries carrier tracking services so that physical
// delivery can be confirmed without the buyer's word for it.
package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxErrorBody = 4 << 10

// Report is one carrier answer for a tracking code.
type Report struct {
	Carrier      string    `json:"carrier"`
	TrackingCode string    `json:"tracking_code"`
	Status       string    `json:"status"`
	Details      string    `json:"details,omitempty"`
	Proof        string    `json:"proof,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Tracker looks up the current state of a shipment.
type Tracker interface {
	Track(ctx context.Context, carrier, trackingCode string) (*Report, error)
}

// ProofHash fingerprints a report so the escrow keeps a stable record of the
// carrier answer that confirmed delivery.
func ProofHash(r Report) string {
	h := sha256.New()
	for _, part := range []string{
		strings.ToLower(r.Carrier),
		r.TrackingCode,
		r.Status,
		r.Proof,
		r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HTTPTracker talks to a tracking aggregator exposing
// GET {base}/tracking/{carrier}/{code}.
type HTTPTracker struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

func NewHTTPTracker(baseURL string, timeout time.Duration, requestsPerSec float64, log *zap.Logger) *HTTPTracker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if requestsPerSec > 0 {
		limit = rate.Limit(requestsPerSec)
	}
	return &HTTPTracker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		log:        log,
	}
}

type trackingResponse struct {
	Status    string    `json:"status"`
	Details   string    `json:"details"`
	Proof     string    `json:"proof"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *HTTPTracker) Track(ctx context.Context, carrier, trackingCode string) (*Report, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrNetwork, err)
	}
	path := "/tracking/" + url.PathEscape(strings.ToLower(carrier)) + "/" + url.PathEscape(trackingCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", apperr.ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("tracking code %s at %s: %w", trackingCode, carrier, apperr.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: GET %s returned %d", apperr.ErrNetwork, path, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw trackingResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	status := strings.ToLower(strings.TrimSpace(raw.Status))
	if !models.IsValidDeliveryStatus(status) {
		t.log.Warn("carrier reported unknown status", zap.String("carrier", carrier), zap.String("status", raw.Status))
		status = models.DeliveryUnknown
	}
	if raw.UpdatedAt.IsZero() {
		raw.UpdatedAt = time.Now().UTC()
	}
	return &Report{
		Carrier:      carrier,
		TrackingCode: trackingCode,
		Status:       status,
		Details:      raw.Details,
		Proof:        raw.Proof,
		UpdatedAt:    raw.UpdatedAt,
	}, nil
}
