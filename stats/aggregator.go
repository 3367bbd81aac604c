package stats

import (
	"context"
	"log"
	"sync"
	"time"

	"library_lending_service/db"
	"library_lending_service/peer"
)

// Ledger is the reporting slice of the loan store (satisfied by *db.Repo).
type Ledger interface {
	PopularBookStats(ctx context.Context, limit int) ([]db.BookBorrowCount, error)
	ActiveUserStats(ctx context.Context, limit int) ([]db.UserBorrowCount, error)
	GetCurrentStats(ctx context.Context, now time.Time) (*db.CurrentStats, error)
}

// Peers is the enrichment/aggregate slice of the gateway.
type Peers interface {
	GetUserCached(ctx context.Context, id int64) (*peer.UserDetail, error)
	GetBookCached(ctx context.Context, id int64) (*peer.BookDetail, error)
	GetUserCounts(ctx context.Context) (*peer.UserCounts, error)
	GetBookCounts(ctx context.Context) (*peer.BookCounts, error)
}

// Aggregator builds the reporting views. Peer failures degrade entries or
// zero out sub-results; they never fail a whole response.
type Aggregator struct {
	ledger Ledger
	peers  Peers
	now    func() time.Time
}

func NewAggregator(ledger Ledger, peers Peers) *Aggregator {
	return &Aggregator{ledger: ledger, peers: peers, now: time.Now}
}

type BookRef struct {
	ID     int64  `json:"id"`
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
}

type UserRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type PopularBook struct {
	Book        BookRef `json:"book"`
	BorrowCount int64   `json:"borrow_count"`
}

type ActiveUser struct {
	User          UserRef `json:"user"`
	BooksBorrowed int64   `json:"books_borrowed"`
}

func (a *Aggregator) PopularBooks(ctx context.Context, limit int) ([]PopularBook, error) {
	rows, err := a.ledger.PopularBookStats(ctx, limit)
	if err != nil {
		return nil, err
	}

	out := make([]PopularBook, 0, len(rows))
	for _, r := range rows {
		entry := PopularBook{Book: BookRef{ID: r.BookID}, BorrowCount: r.BorrowCount}
		if b, err := a.peers.GetBookCached(ctx, r.BookID); err == nil {
			entry.Book = BookRef{ID: b.ID, Title: b.Title, Author: b.Author}
		}
		out = append(out, entry)
	}
	return out, nil
}

func (a *Aggregator) ActiveUsers(ctx context.Context, limit int) ([]ActiveUser, error) {
	rows, err := a.ledger.ActiveUserStats(ctx, limit)
	if err != nil {
		return nil, err
	}

	out := make([]ActiveUser, 0, len(rows))
	for _, r := range rows {
		entry := ActiveUser{User: UserRef{ID: r.UserID}, BooksBorrowed: r.BooksBorrowed}
		if u, err := a.peers.GetUserCached(ctx, r.UserID); err == nil {
			entry.User = UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
		}
		out = append(out, entry)
	}
	return out, nil
}

type Overview struct {
	TotalUsers     int64 `json:"total_users"`
	TotalBooks     int64 `json:"total_books"`
	BooksAvailable int64 `json:"books_available"`
	BooksBorrowed  int64 `json:"books_borrowed"`
	OverdueLoans   int64 `json:"overdue_loans"`
	LoansToday     int64 `json:"loans_today"`
	ReturnsToday   int64 `json:"returns_today"`
}

// Overview fans out to the ledger and both peers in parallel. A failed
// sub-query contributes zeros; the overview itself always succeeds.
func (a *Aggregator) Overview(ctx context.Context) *Overview {
	var (
		wg         sync.WaitGroup
		loanStats  *db.CurrentStats
		userCounts *peer.UserCounts
		bookCounts *peer.BookCounts
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		s, err := a.ledger.GetCurrentStats(ctx, a.now().UTC())
		if err != nil {
			log.Printf("WARN: overview loan stats failed: %v", err)
			return
		}
		loanStats = s
	}()
	go func() {
		defer wg.Done()
		c, err := a.peers.GetUserCounts(ctx)
		if err != nil {
			log.Printf("WARN: overview user counts failed: %v", err)
			return
		}
		userCounts = c
	}()
	go func() {
		defer wg.Done()
		c, err := a.peers.GetBookCounts(ctx)
		if err != nil {
			log.Printf("WARN: overview book counts failed: %v", err)
			return
		}
		bookCounts = c
	}()
	wg.Wait()

	var o Overview
	if userCounts != nil {
		o.TotalUsers = userCounts.TotalUsers
	}
	if bookCounts != nil {
		o.TotalBooks = bookCounts.TotalBooks
		o.BooksAvailable = bookCounts.BooksAvailable
	}
	if loanStats != nil {
		o.BooksBorrowed = loanStats.BooksBorrowed
		o.OverdueLoans = loanStats.OverdueLoans
		o.LoansToday = loanStats.LoansToday
		o.ReturnsToday = loanStats.ReturnsToday
	}
	return &o
}
