package models

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// RunOutcome is the result of one attempt to advance a recurring template.
type RunOutcome string

const (
	RunGenerated RunOutcome = "generated"
	RunCompleted RunOutcome = "completed"
	RunFailed    RunOutcome = "failed"
	RunSkipped   RunOutcome = "skipped"
)

// RecurringRun is the audit trail of the scheduler: one row per cycle attempt.
type RecurringRun struct {
	ID        snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	CreatedAt time.Time    `json:"created_at"`

	OrganizationID uint       `gorm:"index" json:"organization_id"`
	TemplateID     uint       `gorm:"index:idx_recurring_runs_template;not null" json:"template_id"`
	ScheduledFor   time.Time  `gorm:"index:idx_recurring_runs_template;not null" json:"scheduled_for"`
	Outcome        RunOutcome `gorm:"size:16;not null" json:"outcome"`

	ChildInvoiceID    *uint  `json:"child_invoice_id,omitempty"`
	InvoiceNumber     string `gorm:"size:50" json:"invoice_number,omitempty"`
	Error             string `gorm:"type:text" json:"error,omitempty"`
	NotificationError string `gorm:"type:text" json:"notification_error,omitempty"`
}
