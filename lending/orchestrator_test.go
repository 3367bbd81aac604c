package lending

import (
	"context"
	"errors"
	"testing"
	"time"

	"library_lending_service/db"
	"library_lending_service/models"
	"library_lending_service/peer"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeLedger counts mutations so tests can assert that failed workflows
// had no ledger side effects.
type fakeLedger struct {
	createErr error
	returnErr error
	extendErr error

	createdLoans []*models.Loan
	returned     map[string]*models.Loan
	extended     *db.ExtendedLoan
	extendCalls  int

	overdue     []db.OverdueLoan
	byID        map[string]*models.Loan
	byUser      []models.Loan
	activeBooks map[int64]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		returned:    map[string]*models.Loan{},
		byID:        map[string]*models.Loan{},
		activeBooks: map[int64]bool{},
	}
}

func (f *fakeLedger) CreateLoan(ctx context.Context, userID, bookID int64, dueDate time.Time) (*models.Loan, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	l := &models.Loan{
		ID:        uuid.NewString(),
		UserID:    userID,
		BookID:    bookID,
		IssueDate: fixedNow,
		DueDate:   dueDate,
		Status:    models.LoanStatusActive,
	}
	f.createdLoans = append(f.createdLoans, l)
	return l, nil
}

func (f *fakeLedger) FindLoanByID(ctx context.Context, id string) (*models.Loan, error) {
	if l, ok := f.byID[id]; ok {
		return l, nil
	}
	return nil, db.ErrLoanNotFound
}

func (f *fakeLedger) FindLoansByUser(ctx context.Context, userID int64) ([]models.Loan, error) {
	return f.byUser, nil
}

func (f *fakeLedger) FindOverdueLoans(ctx context.Context, now time.Time) ([]db.OverdueLoan, error) {
	return f.overdue, nil
}

func (f *fakeLedger) ReturnLoan(ctx context.Context, id string) (*models.Loan, error) {
	if f.returnErr != nil {
		return nil, f.returnErr
	}
	l, ok := f.returned[id]
	if !ok {
		return nil, db.ErrLoanNotFound
	}
	delete(f.returned, id) // second return sees no ACTIVE row
	ret := fixedNow
	l.ReturnDate = &ret
	l.Status = models.LoanStatusReturned
	return l, nil
}

func (f *fakeLedger) ExtendLoan(ctx context.Context, id string, days int) (*db.ExtendedLoan, error) {
	f.extendCalls++
	if f.extendErr != nil {
		return nil, f.extendErr
	}
	return f.extended, nil
}

func (f *fakeLedger) ExistsActiveLoanForBook(ctx context.Context, bookID int64) (bool, error) {
	return f.activeBooks[bookID], nil
}

type fakePeers struct {
	user    *peer.UserDetail
	userErr error
	book    *peer.BookDetail
	bookErr error

	adjustErr error
	adjustOps []string

	userCalls int
	bookCalls int
}

func (f *fakePeers) GetUser(ctx context.Context, id int64) (*peer.UserDetail, error) {
	f.userCalls++
	return f.user, f.userErr
}

func (f *fakePeers) GetBook(ctx context.Context, id int64) (*peer.BookDetail, error) {
	f.bookCalls++
	return f.book, f.bookErr
}

func (f *fakePeers) GetUserCached(ctx context.Context, id int64) (*peer.UserDetail, error) {
	return f.GetUser(ctx, id)
}

func (f *fakePeers) GetBookCached(ctx context.Context, id int64) (*peer.BookDetail, error) {
	return f.GetBook(ctx, id)
}

func (f *fakePeers) AdjustBookAvailability(ctx context.Context, bookID int64, op string) error {
	f.adjustOps = append(f.adjustOps, op)
	return f.adjustErr
}

func newOrchestrator(l Ledger, p Peers) *Orchestrator {
	o := NewOrchestrator(l, p)
	o.now = func() time.Time { return fixedNow }
	return o
}

func healthyPeers() *fakePeers {
	return &fakePeers{
		user: &peer.UserDetail{ID: 7, Name: "Alice", Email: "alice@example.com"},
		book: &peer.BookDetail{ID: 3, Title: "Dune", Author: "Herbert", AvailableCopies: 2},
	}
}

func TestIssueRejectsShortLoanTermWithoutSideEffects(t *testing.T) {
	ledger := newFakeLedger()
	peers := healthyPeers()
	o := newOrchestrator(ledger, peers)

	_, err := o.Issue(context.Background(), 7, 3, fixedNow.Add(48*time.Hour))

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Empty(t, ledger.createdLoans)
	assert.Zero(t, peers.userCalls, "validation failure must not reach the peers")
}

func TestIssueAcceptsExactlyThreeDays(t *testing.T) {
	ledger := newFakeLedger()
	o := newOrchestrator(ledger, healthyPeers())

	_, err := o.Issue(context.Background(), 7, 3, fixedNow.Add(72*time.Hour))

	require.NoError(t, err)
	assert.Len(t, ledger.createdLoans, 1)
}

func TestIssueUnknownUser(t *testing.T) {
	peers := healthyPeers()
	peers.userErr = peer.ErrPeerNotFound
	ledger := newFakeLedger()
	o := newOrchestrator(ledger, peers)

	_, err := o.Issue(context.Background(), 7, 3, fixedNow.Add(96*time.Hour))

	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Empty(t, ledger.createdLoans)
}

func TestIssueIdentityDownNoLoanCreated(t *testing.T) {
	peers := healthyPeers()
	peers.userErr = peer.ErrBreakerOpen
	ledger := newFakeLedger()
	o := newOrchestrator(ledger, peers)

	_, err := o.Issue(context.Background(), 7, 3, fixedNow.Add(96*time.Hour))

	assert.ErrorIs(t, err, ErrPeerUnavailable)
	assert.Empty(t, ledger.createdLoans, "no loan row when identity is unreachable")
}

func TestIssueUnknownBook(t *testing.T) {
	peers := healthyPeers()
	peers.bookErr = peer.ErrPeerNotFound
	o := newOrchestrator(newFakeLedger(), peers)

	_, err := o.Issue(context.Background(), 7, 3, fixedNow.Add(96*time.Hour))

	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestIssueNoCopiesAvailable(t *testing.T) {
	peers := healthyPeers()
	peers.book.AvailableCopies = 0
	ledger := newFakeLedger()
	o := newOrchestrator(ledger, peers)

	_, err := o.Issue(context.Background(), 7, 3, fixedNow.Add(96*time.Hour))

	assert.ErrorIs(t, err, ErrNoCopiesAvailable)
	assert.Empty(t, ledger.createdLoans)
}

func TestIssueCreatesLoanAndDecrementsCatalog(t *testing.T) {
	ledger := newFakeLedger()
	peers := healthyPeers()
	o := newOrchestrator(ledger, peers)

	due := fixedNow.Add(5 * 24 * time.Hour)
	loan, err := o.Issue(context.Background(), 7, 3, due)

	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusActive, loan.Status)
	assert.Equal(t, due, loan.DueDate)
	assert.Equal(t, []string{peer.OpDecrement}, peers.adjustOps)
}

func TestIssueSucceedsWhenAdvisoryDecrementFails(t *testing.T) {
	ledger := newFakeLedger()
	peers := healthyPeers()
	peers.adjustErr = peer.ErrPeerUnavailable
	o := newOrchestrator(ledger, peers)

	loan, err := o.Issue(context.Background(), 7, 3, fixedNow.Add(96*time.Hour))

	require.NoError(t, err, "the ledger write is authoritative; the catalog update is advisory")
	assert.Equal(t, models.LoanStatusActive, loan.Status)
}

func TestIssueDuplicateActiveLoan(t *testing.T) {
	ledger := newFakeLedger()
	ledger.createErr = db.ErrDuplicateActiveLoan
	o := newOrchestrator(ledger, healthyPeers())

	_, err := o.Issue(context.Background(), 7, 3, fixedNow.Add(96*time.Hour))

	assert.ErrorIs(t, err, ErrDuplicateLoan)
}

// Two issues against the last copy both pass the availability check when
// the first decrement has not landed yet. This documents the known
// cross-service race; the ledger invariant (one active loan per user and
// book) still holds because the users differ.
func TestIssueRaceOnLastCopyIsPossible(t *testing.T) {
	ledger := newFakeLedger()
	peers := healthyPeers()
	peers.book.AvailableCopies = 1
	peers.adjustErr = peer.ErrPeerUnavailable // decrement never lands
	o := newOrchestrator(ledger, peers)

	due := fixedNow.Add(5 * 24 * time.Hour)
	_, err1 := o.Issue(context.Background(), 7, 3, due)
	_, err2 := o.Issue(context.Background(), 8, 3, due)

	require.NoError(t, err1)
	require.NoError(t, err2, "over-allocation of the last copy is accepted behavior")
	assert.Len(t, ledger.createdLoans, 2)
}

func TestReturnClosesLoanAndIncrementsCatalog(t *testing.T) {
	ledger := newFakeLedger()
	ledger.returned["L1"] = &models.Loan{ID: "L1", UserID: 7, BookID: 3, Status: models.LoanStatusActive}
	peers := healthyPeers()
	o := newOrchestrator(ledger, peers)

	loan, err := o.Return(context.Background(), "L1")

	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusReturned, loan.Status)
	require.NotNil(t, loan.ReturnDate)
	assert.Equal(t, fixedNow, *loan.ReturnDate)
	assert.Equal(t, []string{peer.OpIncrement}, peers.adjustOps)
}

func TestReturnTwiceIsNotFound(t *testing.T) {
	ledger := newFakeLedger()
	ledger.returned["L1"] = &models.Loan{ID: "L1", UserID: 7, BookID: 3, Status: models.LoanStatusActive}
	o := newOrchestrator(ledger, healthyPeers())

	_, err := o.Return(context.Background(), "L1")
	require.NoError(t, err)

	_, err = o.Return(context.Background(), "L1")
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestReturnSucceedsWhenAdvisoryIncrementFails(t *testing.T) {
	ledger := newFakeLedger()
	ledger.returned["L1"] = &models.Loan{ID: "L1", UserID: 7, BookID: 3, Status: models.LoanStatusActive}
	peers := healthyPeers()
	peers.adjustErr = peer.ErrPeerUnavailable
	o := newOrchestrator(ledger, peers)

	_, err := o.Return(context.Background(), "L1")

	assert.NoError(t, err)
}

func TestExtendRejectsNonPositiveDays(t *testing.T) {
	ledger := newFakeLedger()
	o := newOrchestrator(ledger, healthyPeers())

	for _, days := range []int{0, -3} {
		_, err := o.Extend(context.Background(), "L1", days)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
	}
	assert.Zero(t, ledger.extendCalls, "validation failure must not touch the ledger")
}

func TestExtendReturnsBothDueDates(t *testing.T) {
	orig := fixedNow.Add(96 * time.Hour)
	ledger := newFakeLedger()
	ledger.extended = &db.ExtendedLoan{
		Loan: models.Loan{
			ID: "L1", UserID: 7, BookID: 3,
			IssueDate: fixedNow, DueDate: orig.AddDate(0, 0, 7),
			Status: models.LoanStatusActive, ExtensionsCount: 1,
		},
		OriginalDueDate: orig,
		ExtendedDueDate: orig.AddDate(0, 0, 7),
	}
	o := newOrchestrator(ledger, healthyPeers())

	res, err := o.Extend(context.Background(), "L1", 7)

	require.NoError(t, err)
	assert.Equal(t, orig, res.OriginalDueDate)
	assert.Equal(t, orig.AddDate(0, 0, 7), res.ExtendedDueDate)
	assert.Equal(t, 1, res.ExtensionsCount)
	assert.Equal(t, models.LoanStatusActive, res.Status)
}

func TestExtendUnknownLoan(t *testing.T) {
	ledger := newFakeLedger()
	ledger.extendErr = db.ErrLoanNotFound
	o := newOrchestrator(ledger, healthyPeers())

	_, err := o.Extend(context.Background(), "nope", 7)

	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestLoanDetailDegradesToIDOnlyOnPeerFailure(t *testing.T) {
	ledger := newFakeLedger()
	ledger.byID["L1"] = &models.Loan{
		ID: "L1", UserID: 7, BookID: 3,
		IssueDate: fixedNow, DueDate: fixedNow.Add(96 * time.Hour),
		Status: models.LoanStatusActive,
	}
	peers := healthyPeers()
	peers.bookErr = peer.ErrPeerUnavailable
	o := newOrchestrator(ledger, peers)

	d, err := o.LoanDetail(context.Background(), "L1")

	require.NoError(t, err)
	assert.Equal(t, "Alice", d.User.Name, "identity side enriched")
	assert.Equal(t, int64(3), d.Book.ID)
	assert.Empty(t, d.Book.Title, "catalog side degraded to id-only")
}

func TestUserLoansEnrichesBooks(t *testing.T) {
	ledger := newFakeLedger()
	ledger.byUser = []models.Loan{
		{ID: "L1", UserID: 7, BookID: 3, IssueDate: fixedNow, DueDate: fixedNow.Add(96 * time.Hour), Status: models.LoanStatusActive, ExtensionsCount: 2},
	}
	o := newOrchestrator(ledger, healthyPeers())

	loans, err := o.UserLoans(context.Background(), 7)

	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "Dune", loans[0].Book.Title)
	assert.Equal(t, 2, loans[0].ExtensionsCount)
}

func TestOverdueLoansCarryDaysOverdue(t *testing.T) {
	ledger := newFakeLedger()
	ledger.overdue = []db.OverdueLoan{
		{
			ID: "L1", UserID: 7, BookID: 3,
			IssueDate:   fixedNow.Add(-10 * 24 * time.Hour),
			DueDate:     fixedNow.Add(-4 * 24 * time.Hour),
			DaysOverdue: 4,
		},
	}
	o := newOrchestrator(ledger, healthyPeers())

	rows, err := o.OverdueLoans(context.Background())

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 4, rows[0].DaysOverdue)
	assert.Equal(t, "Alice", rows[0].User.Name)
	assert.Equal(t, "Dune", rows[0].Book.Title)
}

func TestBookHasActiveLoan(t *testing.T) {
	ledger := newFakeLedger()
	ledger.activeBooks[3] = true
	o := newOrchestrator(ledger, healthyPeers())

	exists, err := o.BookHasActiveLoan(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = o.BookHasActiveLoan(context.Background(), 4)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPeerErrorMapping(t *testing.T) {
	assert.ErrorIs(t, mapPeerErr(peer.ErrPeerNotFound, ErrUserNotFound), ErrUserNotFound)
	assert.ErrorIs(t, mapPeerErr(peer.ErrBreakerOpen, ErrUserNotFound), ErrPeerUnavailable)
	assert.ErrorIs(t, mapPeerErr(errors.New("connection refused"), ErrUserNotFound), ErrPeerUnavailable)
}
