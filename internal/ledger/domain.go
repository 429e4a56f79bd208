package ledger

import (
	"time"

	"github.com/google/uuid"
)

// EntryStatus tracks a donation entry through valuation.
type EntryStatus string

const (
	// EntryStatusPending awaits the monthly unit-value calculation.
	EntryStatusPending EntryStatus = "pending"
	// EntryStatusPendingApproval has a stamped monetary value and awaits
	// operator sign-off.
	EntryStatusPendingApproval EntryStatus = "pending_approval"
	// EntryStatusCompleted is terminal and payout-ready.
	EntryStatusCompleted EntryStatus = "completed"
)

// EntryTypeDonation tags ledger entries that require valuation.
const EntryTypeDonation = "donation"

// Entry is a unit-consuming user action awaiting valuation. Period is assigned
// by the producing flow at creation time; UnitValue and LocalValue are stamped
// by settlement and immutable afterwards.
type Entry struct {
	ID            uuid.UUID
	UserID        string
	Type          string
	RecipientID   string
	RecipientName string
	Amount        int64
	Period        string
	UnitValue     *float64
	LocalValue    *float64
	Status        EntryStatus
	CreatedAt     time.Time
	SettledAt     *time.Time
	ApprovedAt    *time.Time
	ApprovedBy    *string
}

// RecipientBreakdown aggregates not-yet-completed entries per recipient.
type RecipientBreakdown struct {
	RecipientID   string
	RecipientName string
	Count         int
	Units         int64
	LocalValue    float64
}
