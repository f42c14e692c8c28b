// Package deliverytest provides an in-memory delivery.Tracker for tests.
package deliverytest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/delivery"
)

type FakeTracker struct {
	mu      sync.Mutex
	reports map[string]delivery.Report
	calls   int

	// Errs are returned, one per call, before any report is served.
	Errs []error
}

func New() *FakeTracker {
	return &FakeTracker{reports: map[string]delivery.Report{}}
}

func trackingKey(carrier, code string) string {
	return strings.ToLower(carrier) + "/" + code
}

// SetStatus makes the next lookups of carrier/code report status.
func (f *FakeTracker) SetStatus(carrier, code, status, proof string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[trackingKey(carrier, code)] = delivery.Report{
		Carrier:      carrier,
		TrackingCode: code,
		Status:       status,
		Proof:        proof,
		UpdatedAt:    time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *FakeTracker) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeTracker) Track(_ context.Context, carrier, code string) (*delivery.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.Errs) > 0 {
		err := f.Errs[0]
		f.Errs = f.Errs[1:]
		if err != nil {
			return nil, err
		}
	}
	r, ok := f.reports[trackingKey(carrier, code)]
	if !ok {
		return nil, fmt.Errorf("tracking code %s: %w", code, apperr.ErrNotFound)
	}
	return &r, nil
}
