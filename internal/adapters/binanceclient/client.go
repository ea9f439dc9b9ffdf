package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cryptoBacktest/internal/domain"
	"cryptoBacktest/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// Maximum klines per request accepted by the futures API.
	maxKlinesPerRequest = 1500
)

// Client implements the ports.DataProvider interface over Binance futures klines.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	pageLimit     int
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	BaseURL    string // Overrides the production/testnet URL when set
	PageLimit  int    // Klines per request, defaults to the API maximum
	Logger     ports.Logger
}

// New creates a new Binance client adapter. Klines are public, so the keys may be empty.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Debug(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL})

	pageLimit := cfg.PageLimit
	if pageLimit <= 0 || pageLimit > maxKlinesPerRequest {
		pageLimit = maxKlinesPerRequest
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		pageLimit:     pageLimit,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		mappedErr := mapAPIError(apiErr.Code)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "no such host") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

func mapAPIError(code int64) error {
	switch code {
	case -1003: // Too many requests
		return ports.ErrRateLimited
	case -1001: // Internal error; unable to process your request
		return ports.ErrExchangeUnavailable
	case -1021: // Timestamp for this request is outside of the recvWindow
		return ports.ErrTimeout
	case -1022, -2014, -2015: // Signature or API-key problems
		return ports.ErrAuthenticationFailed
	case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
		return ports.ErrInvalidRequest
	default:
		return ports.ErrUnknown
	}
}

// Ping checks connectivity to the REST API.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, "Ping")
	}
	return nil
}

// GetCandles fetches every kline with an open time in [start, end], paging as needed.
// The result is strictly ascending by open time.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Candle, error) {
	op := "GetCandles"
	if symbol == "" || interval == "" {
		return nil, fmt.Errorf("%w: symbol and interval are required", ports.ErrInvalidRequest)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ports.ErrInvalidRequest, end, start)
	}

	var candles []domain.Candle
	from := start
	for {
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(c.pageLimit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, bk := range klines {
			candle, err := translateKline(bk, symbol, interval)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
			}
			if n := len(candles); n > 0 && !candle.Timestamp.After(candles[n-1].Timestamp) {
				continue
			}
			candles = append(candles, candle)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.OpenTime + 1)
		if len(klines) < c.pageLimit || from.After(end) {
			break
		}
	}

	c.logger.Debug(ctx, "Klines fetched", map[string]interface{}{
		"symbol":   symbol,
		"interval": interval,
		"count":    len(candles),
	})
	return candles, nil
}

func translateKline(bk *futures.Kline, symbol, interval string) (domain.Candle, error) {
	if bk == nil {
		return domain.Candle{}, errors.New("received nil historical kline")
	}
	values := make([]float64, 5)
	for i, raw := range []string{bk.Open, bk.High, bk.Low, bk.Close, bk.Volume} {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("parsing %s '%s': %w", klineFields[i], raw, err)
		}
		values[i] = v
	}

	return domain.Candle{
		Timestamp: time.UnixMilli(bk.OpenTime).UTC(),
		CloseTime: time.UnixMilli(bk.CloseTime).UTC(),
		Symbol:    symbol,   // Use passed symbol as it's not in futures.Kline
		Interval:  interval, // Use passed interval
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

var klineFields = []string{"open price", "high price", "low price", "close price", "volume"}
