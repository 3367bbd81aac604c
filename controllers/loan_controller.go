package controllers

import (
	"net/http"
	"strconv"
	"time"

	"library_lending_service/app"

	"github.com/gin-gonic/gin"
)

type LoanController struct{ *Srv }

func NewLoanController(s *Srv) *LoanController { return &LoanController{Srv: s} }

// POST /api/loans
func (lc *LoanController) Issue(c *gin.Context) {
	var in struct {
		UserID  int64     `json:"user_id" binding:"required"`
		BookID  int64     `json:"book_id" binding:"required"`
		DueDate time.Time `json:"due_date" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		respondErr(c, http.StatusBadRequest, "user_id, book_id, and due_date are required")
		return
	}

	loan, err := lc.Orc.Issue(c.Request.Context(), in.UserID, in.BookID, in.DueDate)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, http.StatusCreated, loan)
}

// POST /api/loans/returns
func (lc *LoanController) Return(c *gin.Context) {
	var in struct {
		LoanID string `json:"loan_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		respondErr(c, http.StatusBadRequest, "loan_id is required")
		return
	}

	loan, err := lc.Orc.Return(c.Request.Context(), in.LoanID)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, http.StatusOK, loan)
}

// PATCH /api/loans/:id/extend
func (lc *LoanController) Extend(c *gin.Context) {
	loanID := c.Param("id")
	if loanID == "" {
		respondErr(c, http.StatusBadRequest, "valid loan ID is required")
		return
	}

	var in struct {
		ExtensionDays int `json:"extension_days"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		respondErr(c, http.StatusBadRequest, "extension_days must be a positive number")
		return
	}

	res, err := lc.Orc.Extend(c.Request.Context(), loanID, in.ExtensionDays)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, http.StatusOK, res)
}

// GET /api/loans/:id
func (lc *LoanController) GetLoan(c *gin.Context) {
	loanID := c.Param("id")
	if loanID == "" {
		respondErr(c, http.StatusBadRequest, "valid loan ID is required")
		return
	}

	d, err := lc.Orc.LoanDetail(c.Request.Context(), loanID)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, http.StatusOK, d)
}

// GET /api/loans/user/:user_id
func (lc *LoanController) UserLoans(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		respondErr(c, http.StatusBadRequest, "valid user ID is required")
		return
	}

	loans, err := lc.Orc.UserLoans(c.Request.Context(), userID)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, http.StatusOK, loans)
}

// GET /api/loans/overdue
func (lc *LoanController) Overdue(c *gin.Context) {
	rows, err := lc.Orc.OverdueLoans(c.Request.Context())
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, http.StatusOK, rows)
}

// GET /api/loans/book/:id/check
func (lc *LoanController) CheckBook(c *gin.Context) {
	bookID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondErr(c, http.StatusBadRequest, "valid book ID is required")
		return
	}

	exists, err := lc.Orc.BookHasActiveLoan(c.Request.Context(), bookID)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, http.StatusOK, app.H{"exists": exists})
}
