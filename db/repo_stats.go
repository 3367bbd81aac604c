package db

import (
	"context"
	"time"

	"library_lending_service/models"
)

type BookBorrowCount struct {
	BookID      int64 `json:"book_id"`
	BorrowCount int64 `json:"borrow_count"`
}

type UserBorrowCount struct {
	UserID        int64 `json:"user_id"`
	BooksBorrowed int64 `json:"books_borrowed"`
}

// CurrentStats is the ledger's share of the system overview.
type CurrentStats struct {
	BooksBorrowed int64 `json:"books_borrowed"`
	OverdueLoans  int64 `json:"overdue_loans"`
	LoansToday    int64 `json:"loans_today"`
	ReturnsToday  int64 `json:"returns_today"`
}

// PopularBookStats counts every loan ever opened per book, most borrowed
// first.
func (r *Repo) PopularBookStats(ctx context.Context, limit int) ([]BookBorrowCount, error) {
	if limit <= 0 {
		limit = 5
	}
	var rows []BookBorrowCount
	err := r.DB.WithContext(ctx).
		Model(&models.Loan{}).
		Select("book_id, COUNT(id) AS borrow_count").
		Group("book_id").
		Order("borrow_count DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

func (r *Repo) ActiveUserStats(ctx context.Context, limit int) ([]UserBorrowCount, error) {
	if limit <= 0 {
		limit = 5
	}
	var rows []UserBorrowCount
	err := r.DB.WithContext(ctx).
		Model(&models.Loan{}).
		Select("user_id, COUNT(id) AS books_borrowed").
		Group("user_id").
		Order("books_borrowed DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

func (r *Repo) GetCurrentStats(ctx context.Context, now time.Time) (*CurrentStats, error) {
	var s CurrentStats
	today := now.UTC().Format("2006-01-02")
	err := r.DB.WithContext(ctx).
		Model(&models.Loan{}).
		Select(`
			COUNT(*) FILTER (WHERE status = 'ACTIVE') AS books_borrowed,
			COUNT(*) FILTER (WHERE status = 'ACTIVE' AND due_date < ?) AS overdue_loans,
			COUNT(*) FILTER (WHERE DATE(issue_date) = ?) AS loans_today,
			COUNT(*) FILTER (WHERE status = 'RETURNED' AND DATE(return_date) = ?) AS returns_today
		`, now, today, today).
		Scan(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}
