package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type StatsController struct{ *Srv }

func NewStatsController(s *Srv) *StatsController { return &StatsController{Srv: s} }

// GET /api/loans/books/popular
func (sc *StatsController) PopularBooks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	rows, err := sc.Agg.PopularBooks(c.Request.Context(), limit)
	if err != nil {
		respondErr(c, http.StatusInternalServerError, "failed to fetch popular books")
		return
	}
	respondOK(c, http.StatusOK, rows)
}

// GET /api/loans/users/active
func (sc *StatsController) ActiveUsers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	rows, err := sc.Agg.ActiveUsers(c.Request.Context(), limit)
	if err != nil {
		respondErr(c, http.StatusInternalServerError, "failed to fetch active users")
		return
	}
	respondOK(c, http.StatusOK, rows)
}

// GET /api/loans/overview
// Partial-result policy: a failed sub-query is reported as zero, never as
// an error.
func (sc *StatsController) Overview(c *gin.Context) {
	respondOK(c, http.StatusOK, sc.Agg.Overview(c.Request.Context()))
}
