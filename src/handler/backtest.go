package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/quantlab/backtest-hub/src/engine"
	"github.com/quantlab/backtest-hub/src/models"
	"github.com/quantlab/backtest-hub/src/services"
)

func (a *ApiHandler) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	user, found := userFromContext(r.Context())
	if !found {
		setErrorResponse("handleRunBacktest: unauthorized", http.StatusUnauthorized, fmt.Errorf("no user in context"), w)
		return
	}

	var request models.BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		setErrorResponse("handleRunBacktest: failed to decode request", http.StatusBadRequest, err, w)
		return
	}

	status, err := a.backtests.Run(r.Context(), user, &request)
	if err != nil {
		respondError("handleRunBacktest: submission failed", err, w)
		return
	}

	if err := setResponse(status, w); err != nil {
		setErrorResponse("handleRunBacktest: failed to set response", http.StatusInternalServerError, err, w)
	}
}

func (a *ApiHandler) handleBacktestStatus(w http.ResponseWriter, r *http.Request) {
	user, found := userFromContext(r.Context())
	if !found {
		setErrorResponse("handleBacktestStatus: unauthorized", http.StatusUnauthorized, fmt.Errorf("no user in context"), w)
		return
	}

	backtestID := mux.Vars(r)["id"]

	status, err := a.backtests.GetStatus(r.Context(), user, backtestID)
	if err != nil {
		respondError("handleBacktestStatus: failed to fetch status", err, w)
		return
	}

	if err := setResponse(status, w); err != nil {
		setErrorResponse("handleBacktestStatus: failed to set response", http.StatusInternalServerError, err, w)
	}
}

func (a *ApiHandler) handleBacktestResults(w http.ResponseWriter, r *http.Request) {
	user, found := userFromContext(r.Context())
	if !found {
		setErrorResponse("handleBacktestResults: unauthorized", http.StatusUnauthorized, fmt.Errorf("no user in context"), w)
		return
	}

	backtestID := mux.Vars(r)["id"]

	hydrated, err := a.backtests.GetHydrated(r.Context(), user, backtestID)
	if err != nil {
		respondError("handleBacktestResults: failed to fetch results", err, w)
		return
	}

	// Sections fail independently; errors ride alongside whatever loaded.
	response := map[string]interface{}{
		"backtest_id": hydrated.BacktestID,
		"results":     hydrated.Results,
		"trades":      hydrated.Trades,
		"returns":     hydrated.Returns,
	}

	sectionErrors := map[string]string{}
	if hydrated.Errors.Results != nil {
		sectionErrors["results"] = hydrated.Errors.Results.Error()
	}

	if hydrated.Errors.Trades != nil {
		sectionErrors["trades"] = hydrated.Errors.Trades.Error()
	}

	if hydrated.Errors.Returns != nil {
		sectionErrors["returns"] = hydrated.Errors.Returns.Error()
	}

	if len(sectionErrors) > 0 {
		response["errors"] = sectionErrors
	}

	if err := setResponse(response, w); err != nil {
		setErrorResponse("handleBacktestResults: failed to set response", http.StatusInternalServerError, err, w)
	}
}

func (a *ApiHandler) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	user, found := userFromContext(r.Context())
	if !found {
		setErrorResponse("handleListBacktests: unauthorized", http.StatusUnauthorized, fmt.Errorf("no user in context"), w)
		return
	}

	statuses, err := a.backtests.ListUserBacktests(r.Context(), user)
	if err != nil {
		respondError("handleListBacktests: failed to list backtests", err, w)
		return
	}

	if err := setResponse(statuses, w); err != nil {
		setErrorResponse("handleListBacktests: failed to set response", http.StatusInternalServerError, err, w)
	}
}

func (a *ApiHandler) handleDeleteBacktest(w http.ResponseWriter, r *http.Request) {
	user, found := userFromContext(r.Context())
	if !found {
		setErrorResponse("handleDeleteBacktest: unauthorized", http.StatusUnauthorized, fmt.Errorf("no user in context"), w)
		return
	}

	backtestID := mux.Vars(r)["id"]

	message, err := a.backtests.Delete(r.Context(), user, backtestID)
	if err != nil {
		respondError("handleDeleteBacktest: delete failed", err, w)
		return
	}

	if err := setResponse(map[string]string{"message": message}, w); err != nil {
		setErrorResponse("handleDeleteBacktest: failed to set response", http.StatusInternalServerError, err, w)
	}
}

func (a *ApiHandler) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	user, found := userFromContext(r.Context())
	if !found {
		setErrorResponse("handleDownloadReport: unauthorized", http.StatusUnauthorized, fmt.Errorf("no user in context"), w)
		return
	}

	backtestID := mux.Vars(r)["id"]

	format := engine.ReportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = engine.ReportFormatCSV
	}

	body, contentType, err := a.backtests.DownloadReport(r.Context(), user, backtestID, format)
	if err != nil {
		respondError("handleDownloadReport: download failed", err, w)
		return
	}

	defer body.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=backtest_%s.%s", backtestID, format))

	if _, err := io.Copy(w, body); err != nil {
		log.Errorf("handleDownloadReport: failed to stream report: %v", err)
	}
}

func (a *ApiHandler) handleBacktestTrades(w http.ResponseWriter, r *http.Request) {
	user, found := userFromContext(r.Context())
	if !found {
		setErrorResponse("handleBacktestTrades: unauthorized", http.StatusUnauthorized, fmt.Errorf("no user in context"), w)
		return
	}

	backtestID := mux.Vars(r)["id"]

	trades, err := a.backtests.GetTrades(r.Context(), user, backtestID)
	if err != nil {
		respondError("handleBacktestTrades: failed to fetch trades", err, w)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=trades_%s.csv", backtestID))

		if err := gocsv.Marshal(trades, w); err != nil {
			log.Errorf("handleBacktestTrades: failed to write csv: %v", err)
		}

		return
	}

	response := map[string]interface{}{
		"trades":  trades,
		"summary": services.SummarizeTrades(trades),
	}

	if err := setResponse(response, w); err != nil {
		setErrorResponse("handleBacktestTrades: failed to set response", http.StatusInternalServerError, err, w)
	}
}

func (a *ApiHandler) handleBacktestReturns(w http.ResponseWriter, r *http.Request) {
	user, found := userFromContext(r.Context())
	if !found {
		setErrorResponse("handleBacktestReturns: unauthorized", http.StatusUnauthorized, fmt.Errorf("no user in context"), w)
		return
	}

	backtestID := mux.Vars(r)["id"]

	returns, err := a.backtests.GetReturns(r.Context(), user, backtestID)
	if err != nil {
		respondError("handleBacktestReturns: failed to fetch returns", err, w)
		return
	}

	if err := setResponse(returns, w); err != nil {
		setErrorResponse("handleBacktestReturns: failed to set response", http.StatusInternalServerError, err, w)
	}
}

func (a *ApiHandler) handleCompareBacktests(w http.ResponseWriter, r *http.Request) {
	user, found := userFromContext(r.Context())
	if !found {
		setErrorResponse("handleCompareBacktests: unauthorized", http.StatusUnauthorized, fmt.Errorf("no user in context"), w)
		return
	}

	idsParam := r.URL.Query().Get("ids")
	if idsParam == "" {
		setErrorResponse("handleCompareBacktests: missing ids query parameter", http.StatusBadRequest, fmt.Errorf("missing ids query parameter"), w)
		return
	}

	backtestIDs := strings.Split(idsParam, ",")

	comparison, err := a.backtests.Compare(r.Context(), user, backtestIDs)
	if err != nil {
		respondError("handleCompareBacktests: comparison failed", err, w)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=backtest_comparison.csv")

		if err := comparison.WriteCSV(w); err != nil {
			log.Errorf("handleCompareBacktests: failed to write csv: %v", err)
		}

		return
	}

	if err := setResponse(comparison, w); err != nil {
		setErrorResponse("handleCompareBacktests: failed to set response", http.StatusInternalServerError, err, w)
	}
}

func (a *ApiHandler) handleTickers(w http.ResponseWriter, r *http.Request) {
	tickers, err := a.backtests.GetTickers(r.Context())
	if err != nil {
		respondError("handleTickers: failed to fetch tickers", err, w)
		return
	}

	if err := setResponse(map[string]interface{}{"tickers": tickers}, w); err != nil {
		setErrorResponse("handleTickers: failed to set response", http.StatusInternalServerError, err, w)
	}
}

func (a *ApiHandler) handleDatabaseInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.backtests.GetDatabaseInfo(r.Context())
	if err != nil {
		respondError("handleDatabaseInfo: failed to fetch database info", err, w)
		return
	}

	if err := setResponse(info, w); err != nil {
		setErrorResponse("handleDatabaseInfo: failed to set response", http.StatusInternalServerError, err, w)
	}
}
