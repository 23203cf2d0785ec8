package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"marketfeed/internal/candle"
)

type priceResponse struct {
	Symbol           string `json:"symbol"`
	TimeframeMinutes int    `json:"timeframe_minutes"`
	CurrentPrice     string `json:"current_price"`
	PreviousPrice    string `json:"previous_price"`
	ChangeAbsolute   string `json:"change_absolute"`
	ChangePercent    string `json:"change_percent"`
	Trend            string `json:"trend"`
	Timestamp        int64  `json:"timestamp"`
	Volume           string `json:"volume"`
}

// Price reports the current price for symbol/timeframe and its movement
// against the previous closed bucket. The current value prefers the hub's
// live partial candle; when the hub has no partial for the symbol and
// timeframe yet (no candle for them since startup) it falls back to the
// most recent two buckets from the store.
func (s *Server) Price(c echo.Context) error {
	symbol, timeframe, err := parsePriceParams(c, s.timeframes)
	if err != nil {
		return badRequest(c, err)
	}

	ctx := c.Request().Context()

	current, haveCurrent := s.hub.CurrentPartial(symbol, timeframe)

	var previous candle.Candle
	havePrevious := false

	if haveCurrent {
		recent, err := s.store.GetLatestCandles(ctx, symbol, timeframe, 2)
		if err != nil {
			return serviceError(c, err)
		}
		// The newest stored bucket may be the partial's own period; take the
		// newest one that starts before it.
		for _, r := range recent {
			if r.OpenTime.Before(current.OpenTime) {
				previous = r
				havePrevious = true
				break
			}
		}
	} else {
		recent, err := s.store.GetLatestCandles(ctx, symbol, timeframe, 2)
		if err != nil {
			return serviceError(c, err)
		}
		if len(recent) == 0 {
			return notFound(c, "price", symbol)
		}
		current = recent[0]
		haveCurrent = true
		if len(recent) > 1 {
			previous = recent[1]
			havePrevious = true
		}
	}

	resp := priceResponse{
		Symbol:           symbol,
		TimeframeMinutes: timeframe,
		CurrentPrice:     current.Close.StringFixed(8),
		Timestamp:        current.OpenTime.UnixMilli(),
		Volume:           current.Volume.StringFixed(8),
		Trend:            "neutral",
	}

	if havePrevious && !previous.Close.IsZero() {
		resp.PreviousPrice = previous.Close.StringFixed(8)
		changeAbsolute := current.Close.Sub(previous.Close)
		changePercent := changeAbsolute.Div(previous.Close).Mul(decimal.NewFromInt(100))
		resp.ChangeAbsolute = changeAbsolute.StringFixed(2)
		resp.ChangePercent = changePercent.StringFixed(2)
		switch {
		case changeAbsolute.IsPositive():
			resp.Trend = "up"
		case changeAbsolute.IsNegative():
			resp.Trend = "down"
		}
	} else {
		resp.PreviousPrice = "0.00000000"
		resp.ChangeAbsolute = "0.00"
		resp.ChangePercent = "0.00"
	}

	return c.JSON(http.StatusOK, resp)
}
