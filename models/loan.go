package models

import "time"

const LoanTable = "lls_loans"

const (
	LoanStatusActive   = "ACTIVE"
	LoanStatusReturned = "RETURNED"
)

// Loan is the system of record for a lending transaction. Book and user
// details live in the catalog and identity services; only their ids are
// stored here.
type Loan struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    int64     `gorm:"index;not null" json:"user_id"`
	BookID    int64     `gorm:"index;not null" json:"book_id"`
	IssueDate time.Time `gorm:"index;not null" json:"issue_date"`
	DueDate   time.Time `gorm:"not null" json:"due_date"`

	ReturnDate *time.Time `gorm:"index" json:"return_date,omitempty"`

	Status          string `gorm:"size:20;not null;default:'ACTIVE'" json:"status"`
	ExtensionsCount int    `gorm:"not null;default:0" json:"extensions_count"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Loan) TableName() string { return LoanTable }
