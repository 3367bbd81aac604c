package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrPeerUnavailable covers breaker rejections, timeouts, connection
	// failures and 5xx answers. Callers do not retry.
	ErrPeerUnavailable = errors.New("peer service unavailable")

	// ErrPeerNotFound means the peer answered 404 for the entity.
	ErrPeerNotFound = errors.New("not found on peer service")
)

const (
	OpIncrement = "increment"
	OpDecrement = "decrement"
)

type UserDetail struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type BookDetail struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	AvailableCopies int    `json:"available_copies"`
	Status          string `json:"status"`
}

type UserCounts struct {
	TotalUsers int64 `json:"total_users"`
}

type BookCounts struct {
	TotalBooks     int64 `json:"total_books"`
	BooksAvailable int64 `json:"books_available"`
}

type Options struct {
	IdentityBaseURL string
	CatalogBaseURL  string
	CallTimeout     time.Duration // per remote call, default 3s
	Breaker         BreakerOptions
	Cache           *DetailCache // optional
}

// Gateway is the only way out of this service. Every remote operation
// runs behind its own circuit breaker and a per-call timeout.
type Gateway struct {
	http        *http.Client
	identityURL string
	catalogURL  string
	timeout     time.Duration
	cache       *DetailCache

	userBreaker       *Breaker
	bookBreaker       *Breaker
	adjustBreaker     *Breaker
	userCountsBreaker *Breaker
	bookCountsBreaker *Breaker
}

func NewGateway(opts Options) *Gateway {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 3 * time.Second
	}
	return &Gateway{
		http:        &http.Client{},
		identityURL: opts.IdentityBaseURL,
		catalogURL:  opts.CatalogBaseURL,
		timeout:     opts.CallTimeout,
		cache:       opts.Cache,

		userBreaker:       NewBreaker("identity.get_user", opts.Breaker),
		bookBreaker:       NewBreaker("catalog.get_book", opts.Breaker),
		adjustBreaker:     NewBreaker("catalog.adjust_availability", opts.Breaker),
		userCountsBreaker: NewBreaker("identity.counts", opts.Breaker),
		bookCountsBreaker: NewBreaker("catalog.counts", opts.Breaker),
	}
}

func (g *Gateway) GetUser(ctx context.Context, id int64) (*UserDetail, error) {
	var u UserDetail
	err := g.userBreaker.Do(ctx, func(ctx context.Context) error {
		return g.do(ctx, http.MethodGet, fmt.Sprintf("%s/api/users/%d", g.identityURL, id), nil, &u)
	})
	if err != nil {
		return nil, err
	}
	if g.cache != nil {
		g.cache.SetUser(ctx, &u)
	}
	return &u, nil
}

func (g *Gateway) GetBook(ctx context.Context, id int64) (*BookDetail, error) {
	var b BookDetail
	err := g.bookBreaker.Do(ctx, func(ctx context.Context) error {
		return g.do(ctx, http.MethodGet, fmt.Sprintf("%s/api/books/%d", g.catalogURL, id), nil, &b)
	})
	if err != nil {
		return nil, err
	}
	if g.cache != nil {
		g.cache.SetBook(ctx, &b)
	}
	return &b, nil
}

// GetUserCached is the enrichment read: a live lookup, falling back to the
// last cached answer when the peer cannot be reached. Never used for
// eligibility decisions.
func (g *Gateway) GetUserCached(ctx context.Context, id int64) (*UserDetail, error) {
	u, err := g.GetUser(ctx, id)
	if err == nil {
		return u, nil
	}
	if g.cache != nil && !errors.Is(err, ErrPeerNotFound) {
		if cached, cacheErr := g.cache.GetUser(ctx, id); cacheErr == nil {
			return cached, nil
		}
	}
	return nil, err
}

func (g *Gateway) GetBookCached(ctx context.Context, id int64) (*BookDetail, error) {
	b, err := g.GetBook(ctx, id)
	if err == nil {
		return b, nil
	}
	if g.cache != nil && !errors.Is(err, ErrPeerNotFound) {
		if cached, cacheErr := g.cache.GetBook(ctx, id); cacheErr == nil {
			return cached, nil
		}
	}
	return nil, err
}

// AdjustBookAvailability asks the catalog to move the available-copies
// counter by one. op is OpIncrement or OpDecrement.
func (g *Gateway) AdjustBookAvailability(ctx context.Context, bookID int64, op string) error {
	body := map[string]string{"operation": op}
	return g.adjustBreaker.Do(ctx, func(ctx context.Context) error {
		return g.do(ctx, http.MethodPatch, fmt.Sprintf("%s/api/books/%d/availability", g.catalogURL, bookID), body, nil)
	})
}

func (g *Gateway) GetUserCounts(ctx context.Context) (*UserCounts, error) {
	var c UserCounts
	err := g.userCountsBreaker.Do(ctx, func(ctx context.Context) error {
		return g.do(ctx, http.MethodGet, g.identityURL+"/api/users/counts", nil, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (g *Gateway) GetBookCounts(ctx context.Context) (*BookCounts, error) {
	var c BookCounts
	err := g.bookCountsBreaker.Do(ctx, func(ctx context.Context) error {
		return g.do(ctx, http.MethodGet, g.catalogURL+"/api/books/counts", nil, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// envelope is the {status, data|message} wrapper both peers use.
type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (g *Gateway) do(ctx context.Context, method, url string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		// Covers timeouts and refused connections alike.
		return fmt.Errorf("%w: %v", ErrPeerUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrPeerNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %s returned %d", ErrPeerUnavailable, url, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: bad response body: %v", ErrPeerUnavailable, err)
	}
	if env.Status != "success" {
		return fmt.Errorf("%w: %s", ErrPeerUnavailable, env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: bad response payload: %v", ErrPeerUnavailable, err)
	}
	return nil
}
