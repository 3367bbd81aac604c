package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"library_lending_service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct{ DB *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{DB: db} }

var (
	ErrLoanNotFound        = errors.New("active loan not found")
	ErrDuplicateActiveLoan = errors.New("user already has an active loan for this book")
)

// CreateLoan opens a loan in ACTIVE state. The duplicate check and the
// insert run in one transaction; the partial unique index on
// (user_id, book_id) WHERE status='ACTIVE' catches the race two
// concurrent transactions can still slip through.
func (r *Repo) CreateLoan(ctx context.Context, userID, bookID int64, dueDate time.Time) (*models.Loan, error) {
	var loan *models.Loan
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Loan{}).
			Where("user_id = ? AND book_id = ? AND status = ?", userID, bookID, models.LoanStatusActive).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateActiveLoan
		}

		l := &models.Loan{
			ID:        uuid.NewString(),
			UserID:    userID,
			BookID:    bookID,
			IssueDate: time.Now().UTC(),
			DueDate:   dueDate,
			Status:    models.LoanStatusActive,
		}
		if err := tx.Create(l).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateActiveLoan
			}
			return err
		}
		loan = l
		return nil
	})
	return loan, err
}

func (r *Repo) FindLoanByID(ctx context.Context, id string) (*models.Loan, error) {
	var l models.Loan
	if err := r.DB.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (r *Repo) FindLoansByUser(ctx context.Context, userID int64) ([]models.Loan, error) {
	var ls []models.Loan
	err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("issue_date DESC").
		Find(&ls).Error
	return ls, err
}

// OverdueLoan is a ledger row plus how late it is, in whole days.
type OverdueLoan struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	BookID      int64     `json:"book_id"`
	IssueDate   time.Time `json:"issue_date"`
	DueDate     time.Time `json:"due_date"`
	DaysOverdue int       `json:"days_overdue"`
}

func (r *Repo) FindOverdueLoans(ctx context.Context, now time.Time) ([]OverdueLoan, error) {
	var rows []OverdueLoan
	err := r.DB.WithContext(ctx).
		Model(&models.Loan{}).
		Select(`id, user_id, book_id, issue_date, due_date,
			FLOOR(EXTRACT(EPOCH FROM (? - due_date)) / 86400)::int AS days_overdue`, now).
		Where("status = ? AND due_date < ?", models.LoanStatusActive, now).
		Order("days_overdue DESC").
		Scan(&rows).Error
	return rows, err
}

// ReturnLoan transitions ACTIVE -> RETURNED under a row lock. An unknown
// id and an already-returned id are the same failure: no ACTIVE row.
func (r *Repo) ReturnLoan(ctx context.Context, id string) (*models.Loan, error) {
	var l models.Loan
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&l, "id = ? AND status = ?", id, models.LoanStatusActive).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLoanNotFound
			}
			return err
		}
		now := time.Now().UTC()
		l.ReturnDate = &now
		l.Status = models.LoanStatusReturned
		return tx.Save(&l).Error
	})
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ExtendedLoan reports an extension, keeping the pre-extension due date
// alongside the new one.
type ExtendedLoan struct {
	Loan            models.Loan
	OriginalDueDate time.Time
	ExtendedDueDate time.Time
}

// ExtendLoan pushes the due date of an ACTIVE loan forward by a number of
// calendar days. Positive days is the caller's responsibility.
func (r *Repo) ExtendLoan(ctx context.Context, id string, days int) (*ExtendedLoan, error) {
	var res ExtendedLoan
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var l models.Loan
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&l, "id = ? AND status = ?", id, models.LoanStatusActive).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLoanNotFound
			}
			return err
		}
		res.OriginalDueDate = l.DueDate
		l.DueDate = l.DueDate.AddDate(0, 0, days)
		l.ExtensionsCount++
		if err := tx.Save(&l).Error; err != nil {
			return err
		}
		res.Loan = l
		res.ExtendedDueDate = l.DueDate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *Repo) ExistsActiveLoanForBook(ctx context.Context, bookID int64) (bool, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Loan{}).
		Where("book_id = ? AND status = ?", bookID, models.LoanStatusActive).
		Count(&n).Error
	return n > 0, err
}

func isUniqueViolation(err error) bool {
	// 23505 = unique_violation; matching on the message keeps the pgx
	// error types out of this package.
	return err != nil && strings.Contains(err.Error(), "23505")
}
