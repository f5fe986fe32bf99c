package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/tollgate/internal/api/middleware"
)

// RegisterRoutes mounts the client and worker routes on r.
func RegisterRoutes(r chi.Router, balance *BalanceHandler, tasks *TaskHandler) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAccount)

		r.Get("/balance", balance.GetBalance)
		r.Post("/balance/deposit", balance.Deposit)
		r.Post("/balance/withdraw", balance.Withdraw)
		r.Get("/balance/history", balance.History)

		r.Post("/tasks", tasks.Submit)
		r.Post("/tasks/rpc", tasks.SubmitAndWait)
		r.Get("/tasks", tasks.List)
		r.Get("/tasks/{id}", tasks.Get)
	})

	r.Route("/worker/tasks/{id}", func(r chi.Router) {
		r.Post("/processing", tasks.MarkProcessing)
		r.Post("/result", tasks.SetResult)
		r.Post("/failure", tasks.ReportFailure)
	})
}
