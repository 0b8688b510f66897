package rest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cross-arb-bot/internal/venue"

	"go.uber.org/zap"
)

// Client is a generic JSON-over-HTTP venue adapter. Requests carry an
// HMAC-SHA256 signature over timestamp+method+path+body in the ARB-* headers.
type Client struct {
	name    string
	baseURL string
	key     string
	secret  string
	http    *http.Client
	log     *zap.Logger
	now     func() time.Time
}

func New(name, baseURL, key, secret string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
		log:     log,
		now:     time.Now,
	}
}

func (c *Client) Name() string { return c.name }

type wireInstrument struct {
	Symbol      string  `json:"symbol"`
	Base        string  `json:"base"`
	Quote       string  `json:"quote"`
	Active      bool    `json:"active"`
	AmountStep  float64 `json:"amountStep"`
	MinAmount   float64 `json:"minAmount"`
	MinNotional float64 `json:"minNotional"`
}

func (c *Client) Instruments(ctx context.Context) ([]venue.Instrument, error) {
	var wire []wireInstrument
	if err := c.do(ctx, http.MethodGet, "/api/v1/instruments", nil, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]venue.Instrument, 0, len(wire))
	for _, w := range wire {
		out = append(out, venue.Instrument{
			Symbol:      w.Symbol,
			Base:        w.Base,
			Quote:       w.Quote,
			Active:      w.Active,
			AmountStep:  w.AmountStep,
			MinAmount:   w.MinAmount,
			MinNotional: w.MinNotional,
		})
	}
	return out, nil
}

type wireBook struct {
	Bids [][2]float64 `json:"bids"`
	Asks [][2]float64 `json:"asks"`
	TS   int64        `json:"ts"`
}

func (c *Client) OrderBook(ctx context.Context, symbol string, depth int) (venue.OrderBook, error) {
	query := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(depth)}}
	var wire wireBook
	if err := c.do(ctx, http.MethodGet, "/api/v1/depth", query, nil, &wire); err != nil {
		return venue.OrderBook{}, err
	}
	book := venue.OrderBook{
		Venue:    c.name,
		Symbol:   symbol,
		Bids:     levelsFromWire(wire.Bids),
		Asks:     levelsFromWire(wire.Asks),
		Captured: time.UnixMilli(wire.TS).UTC(),
	}
	if wire.TS == 0 {
		book.Captured = c.now().UTC()
	}
	return book, nil
}

func levelsFromWire(raw [][2]float64) []venue.Level {
	out := make([]venue.Level, 0, len(raw))
	for _, pair := range raw {
		out = append(out, venue.Level{Price: pair[0], Size: pair[1]})
	}
	return out
}

type wireOrder struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Type         string  `json:"type"`
	Amount       float64 `json:"amount"`
	Price        float64 `json:"price"`
	Status       string  `json:"status"`
	FilledAmount float64 `json:"filledAmount"`
	AvgFillPrice float64 `json:"avgFillPrice"`
	CreatedMS    int64   `json:"createdMs"`
}

func (w wireOrder) toOrder(venueName string) venue.Order {
	return venue.Order{
		ID:           w.ID,
		Venue:        venueName,
		Symbol:       w.Symbol,
		Side:         venue.Side(w.Side),
		Type:         venue.OrderType(w.Type),
		Amount:       w.Amount,
		Price:        w.Price,
		Status:       venue.OrderStatus(w.Status),
		FilledAmount: w.FilledAmount,
		AvgFillPrice: w.AvgFillPrice,
		Created:      time.UnixMilli(w.CreatedMS).UTC(),
	}
}

func (c *Client) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.Order, error) {
	body := map[string]any{
		"symbol":        req.Symbol,
		"side":          string(req.Side),
		"type":          string(req.Type),
		"amount":        req.Amount,
		"clientOrderId": req.ClientOrderID,
	}
	if req.Type == venue.Limit {
		body["price"] = req.Price
	}
	var wire wireOrder
	if err := c.do(ctx, http.MethodPost, "/api/v1/order", nil, body, &wire); err != nil {
		return venue.Order{}, err
	}
	if wire.ID == "" {
		return venue.Order{}, fmt.Errorf("%s: order response missing id", c.name)
	}
	return wire.toOrder(c.name), nil
}

func (c *Client) OrderStatus(ctx context.Context, orderID, symbol string) (venue.Order, error) {
	query := url.Values{"id": {orderID}, "symbol": {symbol}}
	var wire wireOrder
	if err := c.do(ctx, http.MethodGet, "/api/v1/order", query, nil, &wire); err != nil {
		return venue.Order{}, err
	}
	return wire.toOrder(c.name), nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	query := url.Values{"id": {orderID}, "symbol": {symbol}}
	return c.do(ctx, http.MethodDelete, "/api/v1/order", query, nil, nil)
}

func (c *Client) Balance(ctx context.Context, currency string) (venue.Balance, error) {
	query := url.Values{"currency": {currency}}
	var wire struct {
		Free  float64 `json:"free"`
		Total float64 `json:"total"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/balance", query, nil, &wire); err != nil {
		return venue.Balance{}, err
	}
	return venue.Balance{Free: wire.Free, Total: wire.Total}, nil
}

func (c *Client) FundingRate(ctx context.Context, symbol string) (float64, error) {
	query := url.Values{"symbol": {symbol}}
	var wire struct {
		FundingRate float64 `json:"fundingRate"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/funding", query, nil, &wire); err != nil {
		return 0, err
	}
	return wire.FundingRate, nil
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	timestamp := c.now().UnixMilli()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ARB-API-KEY", c.key)
	req.Header.Set("ARB-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("ARB-SIGNATURE", sign(c.secret, timestamp, method, requestPath, payload))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil {
			switch apiErr.Code {
			case "bad_symbol":
				return fmt.Errorf("%s %s: %w", c.name, apiErr.Message, venue.ErrBadSymbol)
			case "no_market":
				return fmt.Errorf("%s %s: %w", c.name, apiErr.Message, venue.ErrNoMarket)
			}
		}
		return fmt.Errorf("%s http %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// sign builds the canonical message timestamp+method+path+body and returns
// its hex-encoded HMAC-SHA256.
func sign(secret string, timestamp int64, method, requestPath string, body []byte) string {
	var sb strings.Builder
	sb.Grow(32 + len(method) + len(requestPath) + len(body))
	sb.WriteString(strconv.FormatInt(timestamp, 10))
	sb.WriteString(method)
	sb.WriteString(requestPath)
	sb.Write(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sb.String()))
	return hex.EncodeToString(mac.Sum(nil))
}
