// controllers/srv.go
package controllers

import (
	"errors"
	"net/http"

	"library_lending_service/app"
	"library_lending_service/config"
	"library_lending_service/db"
	"library_lending_service/lending"
	"library_lending_service/peer"
	"library_lending_service/stats"

	"github.com/gin-gonic/gin"
)

// Srv bundles the dependencies the controllers share.
type Srv struct {
	Repo *db.Repo
	Orc  *lending.Orchestrator
	Agg  *stats.Aggregator
	Cfg  config.Config
}

func GetSrv(a *app.App) *Srv {
	repo := db.NewRepo(a.DB)
	return &Srv{
		Repo: repo,
		Orc:  lending.NewOrchestrator(repo, a.Peers),
		Agg:  stats.NewAggregator(repo, a.Peers),
		Cfg:  a.Config,
	}
}

// --- response helpers: {status: success|error, data|message} ---

func respondOK(c *gin.Context, code int, data any) {
	c.JSON(code, app.H{"status": "success", "data": data})
}

func respondErr(c *gin.Context, code int, msg string) {
	c.JSON(code, app.H{"status": "error", "message": msg})
}

// respondFailure maps the lending error taxonomy onto HTTP statuses:
// 400 validation / no copies, 404 user|book|loan, 409 duplicate active
// loan, 503 peer unavailable, 500 everything else.
func respondFailure(c *gin.Context, err error) {
	var ve *lending.ValidationError
	switch {
	case errors.As(err, &ve):
		respondErr(c, http.StatusBadRequest, ve.Message)
	case errors.Is(err, lending.ErrNoCopiesAvailable):
		respondErr(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, lending.ErrUserNotFound),
		errors.Is(err, lending.ErrBookNotFound),
		errors.Is(err, lending.ErrLoanNotFound):
		respondErr(c, http.StatusNotFound, err.Error())
	case errors.Is(err, lending.ErrDuplicateLoan):
		respondErr(c, http.StatusConflict, err.Error())
	case errors.Is(err, lending.ErrPeerUnavailable), errors.Is(err, peer.ErrBreakerOpen):
		respondErr(c, http.StatusServiceUnavailable, lending.ErrPeerUnavailable.Error())
	default:
		respondErr(c, http.StatusInternalServerError, "internal server error")
	}
}
