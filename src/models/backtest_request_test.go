package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func validRequest() BacktestRequest {
	return BacktestRequest{
		Name:        "momentum test",
		Prompt:      "Buy AAPL when the 50 day moving average crosses above the 200 day moving average.",
		Tickers:     []string{"AAPL"},
		InitialCash: 100000,
		StartDate:   "2020-01-01",
		EndDate:     "2021-01-01",
		Commission:  0.1,
	}
}

func TestBacktestRequestValidate(t *testing.T) {
	t.Run("valid request passes", func(t *testing.T) {
		req := validRequest()
		require.NoError(t, req.Validate())
	})

	t.Run("prompt too short", func(t *testing.T) {
		req := validRequest()
		req.Prompt = "buy low"

		err := req.Validate()
		require.Error(t, err)

		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		require.Equal(t, "prompt", vErr.Field)
	})

	t.Run("prompt too long", func(t *testing.T) {
		req := validRequest()
		req.Prompt = strings.Repeat("a", MaxPromptLength+1)

		var vErr *ValidationError
		require.ErrorAs(t, req.Validate(), &vErr)
		require.Equal(t, "prompt", vErr.Field)
	})

	t.Run("whitespace does not count towards the prompt", func(t *testing.T) {
		req := validRequest()
		req.Prompt = "   buy    \n"
		require.Error(t, req.Validate())
	})

	t.Run("no tickers", func(t *testing.T) {
		req := validRequest()
		req.Tickers = nil

		var vErr *ValidationError
		require.ErrorAs(t, req.Validate(), &vErr)
		require.Equal(t, "tickers", vErr.Field)
	})

	t.Run("duplicate tickers", func(t *testing.T) {
		req := validRequest()
		req.Tickers = []string{"AAPL", "MSFT", "AAPL"}
		require.Error(t, req.Validate())
	})

	t.Run("malformed dates", func(t *testing.T) {
		req := validRequest()
		req.StartDate = "01/01/2020"
		require.Error(t, req.Validate())

		req = validRequest()
		req.EndDate = "2021-13-01"
		require.Error(t, req.Validate())
	})

	t.Run("end date not after start date", func(t *testing.T) {
		req := validRequest()
		req.EndDate = req.StartDate
		require.Error(t, req.Validate())

		req.EndDate = "2019-06-01"
		require.Error(t, req.Validate())
	})

	t.Run("rejects a short window with low cash before any network call", func(t *testing.T) {
		req := validRequest()
		req.Tickers = []string{"AAPL"}
		req.StartDate = "2020-01-01"
		req.EndDate = "2020-01-15"
		req.InitialCash = 5000

		err := req.Validate()
		require.Error(t, err)

		// The two-week span fails first; widening it surfaces the cash check.
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		require.Equal(t, "end_date", vErr.Field)

		req.EndDate = "2020-06-01"
		require.ErrorAs(t, req.Validate(), &vErr)
		require.Equal(t, "initial_cash", vErr.Field)
	})

	t.Run("exactly sixty days is accepted", func(t *testing.T) {
		req := validRequest()
		req.StartDate = "2020-01-01"
		req.EndDate = "2020-03-01"
		require.NoError(t, req.Validate())
	})

	t.Run("commission bounds", func(t *testing.T) {
		req := validRequest()
		req.Commission = -0.5
		require.Error(t, req.Validate())

		req.Commission = 100.5
		require.Error(t, req.Validate())

		req.Commission = 100
		require.NoError(t, req.Validate())
	})
}
