package routes

import (
	"library_lending_service/app"
	"library_lending_service/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, a *app.App) {
	s := controllers.GetSrv(a)
	loanCtl := controllers.NewLoanController(s)
	statsCtl := controllers.NewStatsController(s)

	loans := r.Group("/api/loans")
	{
		loans.POST("", loanCtl.Issue)
		loans.POST("/returns", loanCtl.Return)

		loans.GET("/overdue", loanCtl.Overdue)
		loans.GET("/user/:user_id", loanCtl.UserLoans)
		loans.GET("/book/:id/check", loanCtl.CheckBook)

		// Aggregation views
		loans.GET("/books/popular", statsCtl.PopularBooks)
		loans.GET("/users/active", statsCtl.ActiveUsers)
		loans.GET("/overview", statsCtl.Overview)

		loans.PATCH("/:id/extend", loanCtl.Extend)
		loans.GET("/:id", loanCtl.GetLoan)
	}
}
