package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is the lifecycle state of an M-Pesa transaction. The callback
// path normally only produces Pending, Complete or Failed; the STK query
// path can distinguish Cancelled and Timeout as well.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusComplete  Status = "Complete"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
	StatusTimeout   Status = "Timeout"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Transaction records one STK push payment attempt and its outcome.
type Transaction struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	TransactionNo     string    `gorm:"size:50;unique;not null" json:"transaction_no"`
	CheckoutRequestID string    `gorm:"size:200;uniqueIndex;not null" json:"checkout_request_id"`
	PhoneNumber       string    `gorm:"size:15;not null" json:"phone_number"`
	Amount            string    `gorm:"size:10;not null" json:"amount"`
	Reference         string    `gorm:"size:40" json:"reference"`
	Description       string    `gorm:"size:255" json:"description"`
	Status            Status    `gorm:"size:15;not null;default:Pending" json:"status"`
	ReceiptNo         string    `gorm:"size:200" json:"receipt_no"`
	IP                string    `gorm:"size:200" json:"ip"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.TransactionNo == "" {
		t.TransactionNo = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	return nil
}

func (t *Transaction) IsSuccessful() bool {
	return t.Status == StatusComplete
}

func (t *Transaction) IsPending() bool {
	return t.Status == StatusPending
}
