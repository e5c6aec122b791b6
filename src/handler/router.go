package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/quantlab/backtest-hub/src/services"
)

// ApiHandler binds the HTTP surface to the auth and backtest services.
type ApiHandler struct {
	auth      *services.AuthService
	backtests *services.BacktestService
	upgrader  websocket.Upgrader
}

func NewApiHandler(auth *services.AuthService, backtests *services.BacktestService) *ApiHandler {
	return &ApiHandler{
		auth:      auth,
		backtests: backtests,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The browser front end is served from a different origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetupRouter registers every route under /api.
func (a *ApiHandler) SetupRouter(router *mux.Router) {
	api := router.PathPrefix("/api").Subrouter()

	// No token required.
	authRouter := api.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/register", a.handleRegister).Methods(http.MethodPost)
	authRouter.HandleFunc("/token", a.handleLogin).Methods(http.MethodPost)
	authRouter.HandleFunc("/forgot-password", a.handleForgotPassword).Methods(http.MethodPost)
	authRouter.HandleFunc("/reset-password", a.handleResetPassword).Methods(http.MethodPost)

	// Token required.
	sessionRouter := api.PathPrefix("/auth").Subrouter()
	sessionRouter.Use(a.authMiddleware)
	sessionRouter.HandleFunc("/me", a.handleMe).Methods(http.MethodGet)
	sessionRouter.HandleFunc("/logout", a.handleLogout).Methods(http.MethodPost)

	adminRouter := api.PathPrefix("/admin").Subrouter()
	adminRouter.Use(a.authMiddleware, a.adminMiddleware)
	adminRouter.HandleFunc("/users", a.handleListUsers).Methods(http.MethodGet)
	adminRouter.HandleFunc("/users", a.handleUpdateUserStatus).Methods(http.MethodPatch)

	backtestRouter := api.PathPrefix("/backtest").Subrouter()
	backtestRouter.Use(a.authMiddleware)
	backtestRouter.HandleFunc("/run", a.handleRunBacktest).Methods(http.MethodPost)
	backtestRouter.HandleFunc("/status/{id}", a.handleBacktestStatus).Methods(http.MethodGet)
	backtestRouter.HandleFunc("/results/{id}", a.handleBacktestResults).Methods(http.MethodGet)
	backtestRouter.HandleFunc("/user/backtests", a.handleListBacktests).Methods(http.MethodGet)
	backtestRouter.HandleFunc("/download/{id}", a.handleDownloadReport).Methods(http.MethodGet)
	backtestRouter.HandleFunc("/trades/{id}", a.handleBacktestTrades).Methods(http.MethodGet)
	backtestRouter.HandleFunc("/returns/{id}", a.handleBacktestReturns).Methods(http.MethodGet)
	backtestRouter.HandleFunc("/compare", a.handleCompareBacktests).Methods(http.MethodGet)
	backtestRouter.HandleFunc("/ws/{id}", a.handleBacktestStream).Methods(http.MethodGet)
	backtestRouter.HandleFunc("/{id}", a.handleDeleteBacktest).Methods(http.MethodDelete)

	databaseRouter := api.PathPrefix("/database").Subrouter()
	databaseRouter.Use(a.authMiddleware)
	databaseRouter.HandleFunc("/tickers", a.handleTickers).Methods(http.MethodGet)
	databaseRouter.HandleFunc("/info", a.handleDatabaseInfo).Methods(http.MethodGet)
}
