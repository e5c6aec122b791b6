package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quantlab/backtest-hub/src/models"
)

// TokenFunc supplies the bearer token attached to every engine call. It is a
// func rather than a string so session rotation is picked up without
// rebuilding the client.
type TokenFunc func() string

// Client is the submission gateway to the external backtest engine. It
// normalizes every error response into *models.APIError and never retries on
// its own; retry policy belongs to the poller and hydrator.
type Client struct {
	baseURL    string
	token      TokenFunc
	httpClient *http.Client
}

func NewClient(baseURL string, token TokenFunc) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SubmitBacktest validates the request locally, then posts it to the engine
// and returns the newly assigned tracking status.
func (c *Client) SubmitBacktest(ctx context.Context, request *models.BacktestRequest) (*models.BacktestStatus, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	var status models.BacktestStatus
	if err := c.do(ctx, http.MethodPost, "/backtest/run", request, &status); err != nil {
		return nil, fmt.Errorf("SubmitBacktest: %w", err)
	}

	if !status.Status.IsValid() {
		return nil, fmt.Errorf("SubmitBacktest: engine returned unknown state: %s", status.Status)
	}

	return &status, nil
}

func (c *Client) GetStatus(ctx context.Context, backtestID string) (*models.BacktestStatus, error) {
	var status models.BacktestStatus
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/backtest/status/%s", backtestID), nil, &status); err != nil {
		return nil, fmt.Errorf("GetStatus: %w", err)
	}

	if !status.Status.IsValid() {
		return nil, fmt.Errorf("GetStatus: engine returned unknown state: %s", status.Status)
	}

	return &status, nil
}

func (c *Client) GetResults(ctx context.Context, backtestID string) (*models.BacktestResults, error) {
	var results models.BacktestResults
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/backtest/results/%s", backtestID), nil, &results); err != nil {
		return nil, fmt.Errorf("GetResults: %w", err)
	}

	return &results, nil
}

func (c *Client) GetTrades(ctx context.Context, backtestID string) ([]models.Trade, error) {
	var trades []models.Trade
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/backtest/trades/%s", backtestID), nil, &trades); err != nil {
		return nil, fmt.Errorf("GetTrades: %w", err)
	}

	return trades, nil
}

func (c *Client) GetReturns(ctx context.Context, backtestID string) ([]models.ReturnData, error) {
	var returns []models.ReturnData
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/backtest/returns/%s", backtestID), nil, &returns); err != nil {
		return nil, fmt.Errorf("GetReturns: %w", err)
	}

	return returns, nil
}

func (c *Client) ListBacktests(ctx context.Context) ([]models.BacktestStatus, error) {
	var statuses []models.BacktestStatus
	if err := c.do(ctx, http.MethodGet, "/backtest/user/backtests", nil, &statuses); err != nil {
		return nil, fmt.Errorf("ListBacktests: %w", err)
	}

	return statuses, nil
}

func (c *Client) DeleteBacktest(ctx context.Context, backtestID string) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}

	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/backtest/%s", backtestID), nil, &resp); err != nil {
		return "", fmt.Errorf("DeleteBacktest: %w", err)
	}

	return resp.Message, nil
}

type ReportFormat string

const (
	ReportFormatCSV  ReportFormat = "csv"
	ReportFormatHTML ReportFormat = "html"
)

// DownloadReport streams the engine-rendered report. The caller must close
// the returned reader.
func (c *Client) DownloadReport(ctx context.Context, backtestID string, format ReportFormat) (io.ReadCloser, string, error) {
	if format != ReportFormatCSV && format != ReportFormatHTML {
		return nil, "", fmt.Errorf("DownloadReport: unsupported format: %s", format)
	}

	query := url.Values{}
	query.Add("format", string(format))

	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/backtest/download/%s?%s", backtestID, query.Encode()), nil)
	if err != nil {
		return nil, "", fmt.Errorf("DownloadReport: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("DownloadReport: request failed: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		defer res.Body.Close()
		return nil, "", fmt.Errorf("DownloadReport: %w", readAPIError(res))
	}

	return res.Body, res.Header.Get("Content-Type"), nil
}

func (c *Client) GetTickers(ctx context.Context) ([]string, error) {
	var resp struct {
		Tickers []string `json:"tickers"`
	}

	if err := c.do(ctx, http.MethodGet, "/database/tickers", nil, &resp); err != nil {
		return nil, fmt.Errorf("GetTickers: %w", err)
	}

	return resp.Tickers, nil
}

func (c *Client) GetDatabaseInfo(ctx context.Context) (*models.DatabaseInfo, error) {
	var info models.DatabaseInfo
	if err := c.do(ctx, http.MethodGet, "/database/info", nil, &info); err != nil {
		return nil, fmt.Errorf("GetDatabaseInfo: %w", err)
	}

	return &info, nil
}

func (c *Client) newRequest(ctx context.Context, method string, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Add("Accept", "application/json")
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	if token := c.token(); token != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	}

	return req, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	log.Tracef("engine: %s %s", method, req.URL.String())

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return readAPIError(res)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}

	return nil
}

// readAPIError normalizes an engine error response into *models.APIError,
// preferring the engine's {"detail": ...} body over the bare status text.
func readAPIError(res *http.Response) error {
	detail := res.Status

	body, err := io.ReadAll(res.Body)
	if err == nil && len(body) > 0 {
		var dto struct {
			Detail  string `json:"detail"`
			Message string `json:"message"`
		}

		if jsonErr := json.Unmarshal(body, &dto); jsonErr == nil {
			if dto.Detail != "" {
				detail = dto.Detail
			} else if dto.Message != "" {
				detail = dto.Message
			}
		}
	}

	return models.NewAPIError(res.StatusCode, detail)
}
