package models

import "time"

// NumberState is the lifecycle state of an InvoiceNumber ledger row.
type NumberState string

const (
	// NumberReserved marks a number claimed by an allocation whose invoice is not
	// persisted yet.
	NumberReserved NumberState = "reserved"
	// NumberCommitted marks a number bound to a persisted invoice.
	NumberCommitted NumberState = "committed"
)

// InvoiceNumber is one row of the number ledger. The unique index on Number is
// what makes two concurrent allocations for the same base collide.
type InvoiceNumber struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Number string      `gorm:"size:50;uniqueIndex;not null" json:"number"`
	Base   string      `gorm:"size:40;index:idx_invoice_numbers_base_seq;not null" json:"base"`
	Seq    int         `gorm:"index:idx_invoice_numbers_base_seq;not null" json:"seq"`
	State  NumberState `gorm:"size:16;index;not null" json:"state"`
	Token  string      `gorm:"size:36;not null" json:"-"`

	ClientID    uint       `gorm:"index" json:"client_id"`
	InvoiceID   *uint      `gorm:"index" json:"invoice_id,omitempty"`
	ReservedAt  time.Time  `gorm:"index;not null" json:"reserved_at"`
	CommittedAt *time.Time `json:"committed_at,omitempty"`
}
