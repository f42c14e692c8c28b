package models

import "testing"

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{EscrowStatusCreated, EscrowStatusFunded, true},
		{EscrowStatusFunded, EscrowStatusInProgress, true},
		{EscrowStatusInProgress, EscrowStatusInProgress, true},
		{EscrowStatusInProgress, EscrowStatusCompleted, true},
		{EscrowStatusFunded, EscrowStatusCompleted, true},

		// Refund paths
		{EscrowStatusFunded, EscrowStatusRefunded, true},
		{EscrowStatusInProgress, EscrowStatusRefunded, true},
		{EscrowStatusDisputed, EscrowStatusRefunded, true},

		// Dispute paths
		{EscrowStatusFunded, EscrowStatusDisputed, true},
		{EscrowStatusInProgress, EscrowStatusDisputed, true},
		{EscrowStatusDisputed, EscrowStatusCompleted, true},

		// Invalid transitions
		{EscrowStatusCreated, EscrowStatusInProgress, false},
		{EscrowStatusCreated, EscrowStatusCompleted, false},
		{EscrowStatusCreated, EscrowStatusDisputed, false},
		{EscrowStatusCreated, EscrowStatusRefunded, false},
		{EscrowStatusDisputed, EscrowStatusInProgress, false},
		{EscrowStatusDisputed, EscrowStatusDisputed, false},
		{EscrowStatusCompleted, EscrowStatusRefunded, false},
		{EscrowStatusRefunded, EscrowStatusCompleted, false},
		{EscrowStatusCompleted, EscrowStatusDisputed, false},
		{EscrowStatusFunded, EscrowStatusCreated, false},
		{"nonexistent", EscrowStatusFunded, false},
		{EscrowStatusCreated, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		EscrowStatusCreated, EscrowStatusFunded, EscrowStatusInProgress,
		EscrowStatusCompleted, EscrowStatusRefunded, EscrowStatusDisputed,
	}

	for _, status := range allStatuses {
		if _, ok := ValidEscrowTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidEscrowTransitions map", status)
		}
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	terminal := []string{EscrowStatusCompleted, EscrowStatusRefunded}
	for _, status := range terminal {
		if !IsTerminal(status) {
			t.Errorf("status %q should be terminal", status)
		}
		transitions := ValidEscrowTransitions[status]
		if len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}
}

func TestEscrowCloneIsDeep(t *testing.T) {
	reason := "late"
	bps := 4000
	orig := &Escrow{
		Status:        EscrowStatusDisputed,
		DisputeReason: &reason,
		Dispute: &DisputeRecord{
			OpenedBy:      RoleBuyer,
			Decision:      DecisionPending,
			SplitBuyerBPS: &bps,
			Evidence:      []Evidence{{Kind: EvidenceText, Content: "a"}},
		},
	}

	c := orig.Clone()
	*c.DisputeReason = "changed"
	c.Dispute.Evidence[0].Content = "b"
	*c.Dispute.SplitBuyerBPS = 1

	if *orig.DisputeReason != "late" {
		t.Errorf("dispute reason aliased")
	}
	if orig.Dispute.Evidence[0].Content != "a" {
		t.Errorf("evidence aliased")
	}
	if *orig.Dispute.SplitBuyerBPS != 4000 {
		t.Errorf("split bps aliased")
	}
}
