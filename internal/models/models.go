package models

import "time"

// PaymentOption is one acceptable way to satisfy a payment request.
// Amount is an integer string in the smallest unit of the asset.
type PaymentOption struct {
	ID             string `json:"id"`
	Network        string `json:"network"`
	Currency       string `json:"currency"`
	Decimals       int    `json:"decimals"`
	Amount         string `json:"amount"`
	Recipient      string `json:"recipient"`
	Mint           string `json:"mint,omitempty"`
	ReceiptService string `json:"receiptService"`
}

// PaymentRequest is created per access attempt, signed once and immutable.
type PaymentRequest struct {
	ID             string          `json:"id"`
	PaymentOptions []PaymentOption `json:"paymentOptions"`
	ExpiresAt      time.Time       `json:"expiresAt"`
}

// Receipt attests that a specific payment request was satisfied by a
// specific payer. JWT carries the signed credential itself.
type Receipt struct {
	IssuerDID       string    `json:"issuerDid"`
	PayerDID        string    `json:"payerDid"`
	PaymentOptionID string    `json:"paymentOptionId"`
	Signature       string    `json:"signature"`
	JobID           string    `json:"jobId"`
	IssuedAt        time.Time `json:"issuedAt"`
	JWT             string    `json:"jwt"`
}

type JobState string

const (
	JobSubmitted  JobState = "SUBMITTED"
	JobQueued     JobState = "QUEUED"
	JobInProgress JobState = "IN_PROGRESS"
	JobCompleted  JobState = "COMPLETED"
	JobFailed     JobState = "FAILED"
	JobTimedOut   JobState = "TIMED_OUT"
)

// Terminal reports whether a job can no longer change state.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobTimedOut:
		return true
	}
	return false
}

// ResourceKind selects the generation pipeline a payment request is for.
type ResourceKind string

const (
	KindImage     ResourceKind = "image"
	KindAnimation ResourceKind = "animation"
	KindMusic     ResourceKind = "music"
)

func (k ResourceKind) Valid() bool {
	switch k {
	case KindImage, KindAnimation, KindMusic:
		return true
	}
	return false
}

// Job is the audit-store view of a generation job.
type Job struct {
	RequestID string
	JobID     string
	Kind      ResourceKind
	State     JobState
	ResultURL *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IssuedRequest is the audit-store view of an issued payment request.
type IssuedRequest struct {
	RequestID string
	JobID     string
	Kind      ResourceKind
	Amount    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
