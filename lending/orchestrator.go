package lending

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"library_lending_service/db"
	"library_lending_service/models"
	"library_lending_service/peer"
)

// Minimum loan term: the due date must be at least this far in the future.
const minLoanLead = 3 * 24 * time.Hour

// Ledger is the authoritative loan store (satisfied by *db.Repo).
type Ledger interface {
	CreateLoan(ctx context.Context, userID, bookID int64, dueDate time.Time) (*models.Loan, error)
	FindLoanByID(ctx context.Context, id string) (*models.Loan, error)
	FindLoansByUser(ctx context.Context, userID int64) ([]models.Loan, error)
	FindOverdueLoans(ctx context.Context, now time.Time) ([]db.OverdueLoan, error)
	ReturnLoan(ctx context.Context, id string) (*models.Loan, error)
	ExtendLoan(ctx context.Context, id string, days int) (*db.ExtendedLoan, error)
	ExistsActiveLoanForBook(ctx context.Context, bookID int64) (bool, error)
}

// Peers is the breaker-guarded view of the identity and catalog services
// (satisfied by *peer.Gateway).
type Peers interface {
	GetUser(ctx context.Context, id int64) (*peer.UserDetail, error)
	GetBook(ctx context.Context, id int64) (*peer.BookDetail, error)
	GetUserCached(ctx context.Context, id int64) (*peer.UserDetail, error)
	GetBookCached(ctx context.Context, id int64) (*peer.BookDetail, error)
	AdjustBookAvailability(ctx context.Context, bookID int64, op string) error
}

// Orchestrator runs the loan workflows. The ledger write is the
// authoritative step of each workflow; the catalog availability update is
// advisory and its failure is logged, never compensated and never
// surfaced.
type Orchestrator struct {
	ledger Ledger
	peers  Peers
	now    func() time.Time
}

func NewOrchestrator(ledger Ledger, peers Peers) *Orchestrator {
	return &Orchestrator{ledger: ledger, peers: peers, now: time.Now}
}

// Issue opens a new loan: validate the term, confirm the user exists and
// the book has copies, write the loan, then best-effort decrement the
// catalog counter.
func (o *Orchestrator) Issue(ctx context.Context, userID, bookID int64, dueDate time.Time) (*models.Loan, error) {
	if dueDate.Before(o.now().Add(minLoanLead)) {
		return nil, validationErr("due date must be at least 3 days from now")
	}

	if _, err := o.peers.GetUser(ctx, userID); err != nil {
		return nil, mapPeerErr(err, ErrUserNotFound)
	}

	book, err := o.peers.GetBook(ctx, bookID)
	if err != nil {
		return nil, mapPeerErr(err, ErrBookNotFound)
	}
	if book.AvailableCopies <= 0 {
		return nil, ErrNoCopiesAvailable
	}

	loan, err := o.ledger.CreateLoan(ctx, userID, bookID, dueDate)
	if err != nil {
		return nil, mapLedgerErr(err)
	}

	// Advisory step of the saga: the loan stands even if this never lands.
	if err := o.peers.AdjustBookAvailability(ctx, bookID, peer.OpDecrement); err != nil {
		log.Printf("WARN: availability decrement for book %d failed: %v", bookID, err)
	}

	return loan, nil
}

// Return closes an ACTIVE loan and best-effort increments the catalog
// counter. A second Return for the same loan fails with ErrLoanNotFound.
func (o *Orchestrator) Return(ctx context.Context, loanID string) (*models.Loan, error) {
	loan, err := o.ledger.ReturnLoan(ctx, loanID)
	if err != nil {
		return nil, mapLedgerErr(err)
	}

	if err := o.peers.AdjustBookAvailability(ctx, loan.BookID, peer.OpIncrement); err != nil {
		log.Printf("WARN: availability increment for book %d failed: %v", loan.BookID, err)
	}

	return loan, nil
}

// ExtensionResult reports an extension with both due dates.
type ExtensionResult struct {
	ID              string    `json:"id"`
	UserID          int64     `json:"user_id"`
	BookID          int64     `json:"book_id"`
	IssueDate       time.Time `json:"issue_date"`
	OriginalDueDate time.Time `json:"original_due_date"`
	ExtendedDueDate time.Time `json:"extended_due_date"`
	Status          string    `json:"status"`
	ExtensionsCount int       `json:"extensions_count"`
}

func (o *Orchestrator) Extend(ctx context.Context, loanID string, extensionDays int) (*ExtensionResult, error) {
	if extensionDays <= 0 {
		return nil, validationErr("extension_days must be a positive number")
	}

	ext, err := o.ledger.ExtendLoan(ctx, loanID, extensionDays)
	if err != nil {
		return nil, mapLedgerErr(err)
	}

	return &ExtensionResult{
		ID:              ext.Loan.ID,
		UserID:          ext.Loan.UserID,
		BookID:          ext.Loan.BookID,
		IssueDate:       ext.Loan.IssueDate,
		OriginalDueDate: ext.OriginalDueDate,
		ExtendedDueDate: ext.ExtendedDueDate,
		Status:          ext.Loan.Status,
		ExtensionsCount: ext.Loan.ExtensionsCount,
	}, nil
}

// UserRef and BookRef are enrichment payloads; when the owning peer is
// unreachable only the id survives.
type UserRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type BookRef struct {
	ID     int64  `json:"id"`
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
	ISBN   string `json:"isbn,omitempty"`
}

type LoanDetail struct {
	ID         string     `json:"id"`
	User       UserRef    `json:"user"`
	Book       BookRef    `json:"book"`
	IssueDate  time.Time  `json:"issue_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	Status     string     `json:"status"`
}

// LoanDetail fetches one loan and enriches it with user and book data in
// parallel; either side degrades to id-only on peer failure.
func (o *Orchestrator) LoanDetail(ctx context.Context, loanID string) (*LoanDetail, error) {
	loan, err := o.ledger.FindLoanByID(ctx, loanID)
	if err != nil {
		return nil, mapLedgerErr(err)
	}

	d := &LoanDetail{
		ID:         loan.ID,
		User:       UserRef{ID: loan.UserID},
		Book:       BookRef{ID: loan.BookID},
		IssueDate:  loan.IssueDate,
		DueDate:    loan.DueDate,
		ReturnDate: loan.ReturnDate,
		Status:     loan.Status,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if u, err := o.peers.GetUserCached(ctx, loan.UserID); err == nil {
			d.User = UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
		}
	}()
	go func() {
		defer wg.Done()
		if b, err := o.peers.GetBookCached(ctx, loan.BookID); err == nil {
			d.Book = BookRef{ID: b.ID, Title: b.Title, Author: b.Author, ISBN: b.ISBN}
		}
	}()
	wg.Wait()

	return d, nil
}

type UserLoan struct {
	ID              string     `json:"id"`
	Book            BookRef    `json:"book"`
	IssueDate       time.Time  `json:"issue_date"`
	DueDate         time.Time  `json:"due_date"`
	ReturnDate      *time.Time `json:"return_date,omitempty"`
	Status          string     `json:"status"`
	ExtensionsCount int        `json:"extensions_count"`
}

// UserLoans returns a user's history, most recent first, each row
// enriched with book data where the catalog answers.
func (o *Orchestrator) UserLoans(ctx context.Context, userID int64) ([]UserLoan, error) {
	loans, err := o.ledger.FindLoansByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]UserLoan, 0, len(loans))
	for _, l := range loans {
		row := UserLoan{
			ID:              l.ID,
			Book:            BookRef{ID: l.BookID},
			IssueDate:       l.IssueDate,
			DueDate:         l.DueDate,
			ReturnDate:      l.ReturnDate,
			Status:          l.Status,
			ExtensionsCount: l.ExtensionsCount,
		}
		if b, err := o.peers.GetBookCached(ctx, l.BookID); err == nil {
			row.Book = BookRef{ID: b.ID, Title: b.Title, Author: b.Author, ISBN: b.ISBN}
		}
		out = append(out, row)
	}
	return out, nil
}

type OverdueEntry struct {
	ID          string    `json:"id"`
	User        UserRef   `json:"user"`
	Book        BookRef   `json:"book"`
	IssueDate   time.Time `json:"issue_date"`
	DueDate     time.Time `json:"due_date"`
	DaysOverdue int       `json:"days_overdue"`
}

func (o *Orchestrator) OverdueLoans(ctx context.Context) ([]OverdueEntry, error) {
	rows, err := o.ledger.FindOverdueLoans(ctx, o.now().UTC())
	if err != nil {
		return nil, err
	}

	out := make([]OverdueEntry, 0, len(rows))
	for _, r := range rows {
		e := OverdueEntry{
			ID:          r.ID,
			User:        UserRef{ID: r.UserID},
			Book:        BookRef{ID: r.BookID},
			IssueDate:   r.IssueDate,
			DueDate:     r.DueDate,
			DaysOverdue: r.DaysOverdue,
		}
		if u, err := o.peers.GetUserCached(ctx, r.UserID); err == nil {
			e.User = UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
		}
		if b, err := o.peers.GetBookCached(ctx, r.BookID); err == nil {
			e.Book = BookRef{ID: b.ID, Title: b.Title, Author: b.Author}
		}
		out = append(out, e)
	}
	return out, nil
}

func (o *Orchestrator) BookHasActiveLoan(ctx context.Context, bookID int64) (bool, error) {
	return o.ledger.ExistsActiveLoanForBook(ctx, bookID)
}

func mapPeerErr(err error, notFound error) error {
	if errors.Is(err, peer.ErrPeerNotFound) {
		return notFound
	}
	return fmt.Errorf("%w: %v", ErrPeerUnavailable, err)
}

func mapLedgerErr(err error) error {
	switch {
	case errors.Is(err, db.ErrLoanNotFound):
		return ErrLoanNotFound
	case errors.Is(err, db.ErrDuplicateActiveLoan):
		return ErrDuplicateLoan
	default:
		return err
	}
}
