package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	defaultCandleLimit = 500
	maxCandleLimit     = 5000
)

func parseCandleParams(c echo.Context, timeframes map[int]bool) (symbol string, timeframeMinutes int, limit int, startMs *int64, err error) {
	symbol = c.QueryParam("symbol")
	if symbol == "" {
		return "", 0, 0, nil, fmt.Errorf("%w: symbol is required", ErrBadRequest)
	}

	timeframeMinutes = 1
	if raw := c.QueryParam("timeframe"); raw != "" {
		timeframeMinutes, err = strconv.Atoi(raw)
		if err != nil {
			return "", 0, 0, nil, fmt.Errorf("%w: timeframe must be an integer", ErrBadRequest)
		}
	}
	if !timeframes[timeframeMinutes] {
		return "", 0, 0, nil, fmt.Errorf("%w: timeframe %d is not configured", ErrBadRequest, timeframeMinutes)
	}

	limit = defaultCandleLimit
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxCandleLimit {
			return "", 0, 0, nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrBadRequest, maxCandleLimit)
		}
	}

	if raw := c.QueryParam("start_date"); raw != "" {
		t, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			return "", 0, 0, nil, fmt.Errorf("%w: start_date must be RFC3339", ErrBadRequest)
		}
		ms := t.UnixMilli()
		startMs = &ms
	}

	return symbol, timeframeMinutes, limit, startMs, nil
}

func parsePriceParams(c echo.Context, timeframes map[int]bool) (symbol string, timeframeMinutes int, err error) {
	symbol = c.QueryParam("symbol")
	if symbol == "" {
		return "", 0, fmt.Errorf("%w: symbol is required", ErrBadRequest)
	}

	timeframeMinutes = 1
	if raw := c.QueryParam("timeframe"); raw != "" {
		timeframeMinutes, err = strconv.Atoi(raw)
		if err != nil {
			return "", 0, fmt.Errorf("%w: timeframe must be an integer", ErrBadRequest)
		}
	}
	if !timeframes[timeframeMinutes] {
		return "", 0, fmt.Errorf("%w: timeframe %d is not configured", ErrBadRequest, timeframeMinutes)
	}

	return symbol, timeframeMinutes, nil
}

func parseOrderbookParams(c echo.Context) (symbol string, levels int, err error) {
	symbol = c.QueryParam("symbol")
	if symbol == "" {
		return "", 0, fmt.Errorf("%w: symbol is required", ErrBadRequest)
	}

	levels = 20
	if raw := c.QueryParam("levels"); raw != "" {
		levels, err = strconv.Atoi(raw)
		if err != nil {
			return "", 0, fmt.Errorf("%w: levels must be an integer", ErrBadRequest)
		}
	}
	switch levels {
	case 5, 10, 20:
	default:
		return "", 0, fmt.Errorf("%w: levels must be one of 5, 10, 20", ErrBadRequest)
	}

	return symbol, levels, nil
}
