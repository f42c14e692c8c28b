package models

import "time"

// Dispute roles
const (
	RoleBuyer    = "buyer"
	RoleSeller   = "seller"
	RoleMediator = "mediator"
)

// Dispute decisions
const (
	DecisionPending = "pending"
	DecisionBuyer   = "buyer"
	DecisionSeller  = "seller"
	DecisionSplit   = "split"
)

// Evidence kinds
const (
	EvidenceText     = "text"
	EvidenceImage    = "image"
	EvidenceDocument = "document"
	EvidenceOther    = "other"
)

func IsValidOpenerRole(role string) bool {
	return role == RoleBuyer || role == RoleSeller
}

func IsValidDecision(d string) bool {
	return d == DecisionBuyer || d == DecisionSeller || d == DecisionSplit
}

func IsValidEvidenceKind(k string) bool {
	switch k {
	case EvidenceText, EvidenceImage, EvidenceDocument, EvidenceOther:
		return true
	}
	return false
}

type Evidence struct {
	Kind        string    `json:"kind"`
	Content     string    `json:"content,omitempty"`
	URL         string    `json:"url,omitempty"`
	SubmittedBy string    `json:"submitted_by"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type DisputeRecord struct {
	OpenedBy      string     `json:"opened_by"`
	Reason        string     `json:"reason"`
	Evidence      []Evidence `json:"evidence"`
	Decision      string     `json:"decision"`
	SplitBuyerBPS *int       `json:"split_buyer_bps,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	OpenedAt      time.Time  `json:"opened_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

func (d *DisputeRecord) Clone() *DisputeRecord {
	if d == nil {
		return nil
	}
	c := *d
	if d.Evidence != nil {
		c.Evidence = append([]Evidence(nil), d.Evidence...)
	}
	if d.SplitBuyerBPS != nil {
		v := *d.SplitBuyerBPS
		c.SplitBuyerBPS = &v
	}
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

func (d *DisputeRecord) IsResolved() bool {
	return d != nil && d.Decision != DecisionPending
}
