package domain

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Payment is the record of one capture attempt per order. Records are never
// deleted.
type Payment struct {
	ID            uuid.UUID  `db:"id"`
	OrderID       uuid.UUID  `db:"order_id"`
	UserID        string     `db:"user_id"`
	Amount        int64      `db:"amount"`
	Status        Status     `db:"status"`
	TransactionID string     `db:"transaction_id"`
	FailureReason string     `db:"failure_reason"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	ProcessedAt   *time.Time `db:"processed_at"`
}
