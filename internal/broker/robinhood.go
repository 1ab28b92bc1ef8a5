package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/util"
)

// defaultBaseURL is the production Robinhood API host.
const defaultBaseURL = "https://api.robinhood.com"

// RobinhoodAPI is the REST implementation of Broker. The API reports every
// numeric field as a JSON string, so the wire DTOs below are all-string and
// parsed at the edge.
type RobinhoodAPI struct {
	client     *http.Client
	token      string
	accountURL string
	baseURL    string
	logger     *logrus.Logger
}

// NewRobinhoodAPI creates a RobinhoodAPI client with a default HTTP timeout.
func NewRobinhoodAPI(token, accountURL string, logger *logrus.Logger) *RobinhoodAPI {
	return NewRobinhoodAPIWithBaseURL(token, accountURL, "", logger)
}

// NewRobinhoodAPIWithBaseURL creates a RobinhoodAPI client against a custom
// host (tests, mock servers).
func NewRobinhoodAPIWithBaseURL(token, accountURL, baseURL string, logger *logrus.Logger) *RobinhoodAPI {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &RobinhoodAPI{
		client:     &http.Client{Timeout: 15 * time.Second},
		token:      token,
		accountURL: accountURL,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (r *RobinhoodAPI) WithHTTPClient(c *http.Client) *RobinhoodAPI {
	if c != nil {
		r.client = c
	}
	return r
}

var _ Broker = (*RobinhoodAPI)(nil)

// ============ Wire DTOs ============

type ticksPayload struct {
	CutoffPrice string `json:"cutoff_price"`
	AboveTick   string `json:"above_tick"`
	BelowTick   string `json:"below_tick"`
}

type legPayload struct {
	ExpirationDate string `json:"expiration_date"`
	OptionType     string `json:"option_type"`
	StrikePrice    string `json:"strike_price"`
	Side           string `json:"side"`
	PositionEffect string `json:"position_effect"`
}

type orderPayload struct {
	ID                string       `json:"id"`
	ChainSymbol       string       `json:"chain_symbol"`
	Direction         string       `json:"direction"`
	State             string       `json:"state"`
	Price             string       `json:"price"`
	Quantity          string       `json:"quantity"`
	PendingQuantity   string       `json:"pending_quantity"`
	ProcessedQuantity string       `json:"processed_quantity"`
	Premium           string       `json:"premium"`
	ProcessedPremium  string       `json:"processed_premium"`
	MinTicks          ticksPayload `json:"min_ticks"`
	Legs              []legPayload `json:"legs"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

type chainRowPayload struct {
	Type        string       `json:"type"`
	StrikePrice string       `json:"strike_price"`
	BidPrice    string       `json:"bid_price"`
	AskPrice    string       `json:"ask_price"`
	MarkPrice   string       `json:"mark_price"`
	MinTicks    ticksPayload `json:"min_ticks"`
}

type chainPage struct {
	Results []chainRowPayload `json:"results"`
	Next    string            `json:"next"`
}

type quotePayload struct {
	LastTradePrice string `json:"last_trade_price"`
}

type marketHoursPayload struct {
	IsOpen   bool   `json:"is_open"`
	OpensAt  string `json:"opens_at"`
	ClosesAt string `json:"closes_at"`
}

type expirationsPayload struct {
	ExpirationDates []string `json:"expiration_dates"`
}

// parsePrice converts one of the API's string-encoded numeric fields. Empty
// strings mean the field is absent and decode as zero.
func parsePrice(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing price %q: %w", s, err)
	}
	return v, nil
}

func (p ticksPayload) toTicks() (util.Ticks, error) {
	cutoff, err := parsePrice(p.CutoffPrice)
	if err != nil {
		return util.Ticks{}, err
	}
	above, err := parsePrice(p.AboveTick)
	if err != nil {
		return util.Ticks{}, err
	}
	below, err := parsePrice(p.BelowTick)
	if err != nil {
		return util.Ticks{}, err
	}
	return util.Ticks{CutoffPrice: cutoff, AboveTick: above, BelowTick: below}, nil
}

func (p *orderPayload) toOrder() (*models.Order, error) {
	o := &models.Order{
		ID:        p.ID,
		Ticker:    p.ChainSymbol,
		Direction: models.Direction(p.Direction),
		State:     models.OrderState(p.State),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	var err error
	if o.Price, err = parsePrice(p.Price); err != nil {
		return nil, fmt.Errorf("order %s: %w", p.ID, err)
	}
	if o.Quantity, err = parsePrice(p.Quantity); err != nil {
		return nil, fmt.Errorf("order %s: %w", p.ID, err)
	}
	if o.PendingQuantity, err = parsePrice(p.PendingQuantity); err != nil {
		return nil, fmt.Errorf("order %s: %w", p.ID, err)
	}
	if o.ProcessedQuantity, err = parsePrice(p.ProcessedQuantity); err != nil {
		return nil, fmt.Errorf("order %s: %w", p.ID, err)
	}
	if o.Premium, err = parsePrice(p.Premium); err != nil {
		return nil, fmt.Errorf("order %s: %w", p.ID, err)
	}
	if o.ProcessedPremium, err = parsePrice(p.ProcessedPremium); err != nil {
		return nil, fmt.Errorf("order %s: %w", p.ID, err)
	}
	if o.Ticks, err = p.MinTicks.toTicks(); err != nil {
		return nil, fmt.Errorf("order %s: %w", p.ID, err)
	}
	for _, l := range p.Legs {
		strike, err := parsePrice(l.StrikePrice)
		if err != nil {
			return nil, fmt.Errorf("order %s leg: %w", p.ID, err)
		}
		o.Legs = append(o.Legs, models.Leg{
			Expr:       l.ExpirationDate,
			OptionType: models.OptionType(l.OptionType),
			Strike:     strike,
			Side:       l.Side,
			Effect:     l.PositionEffect,
		})
	}
	return o, nil
}

// toChainRow converts a wire row. Rows with unparseable numerics come back
// with Incomplete set rather than failing the whole chain scan.
func (p *chainRowPayload) toChainRow() ChainRow {
	row := ChainRow{Type: models.OptionType(p.Type)}
	var err error
	if row.Strike, err = parsePrice(p.StrikePrice); err == nil {
		if row.Bid, err = parsePrice(p.BidPrice); err == nil {
			if row.Ask, err = parsePrice(p.AskPrice); err == nil {
				if row.Mark, err = parsePrice(p.MarkPrice); err == nil {
					row.Ticks, err = p.MinTicks.toTicks()
				}
			}
		}
	}
	if err != nil {
		row.Incomplete = true
	}
	return row
}

// ============ Broker methods ============

// SubmitLegOrder submits a single-leg limit order. A nil order with a nil
// error means the brokerage declined to create one.
func (r *RobinhoodAPI) SubmitLegOrder(ctx context.Context, req LegOrderRequest) (*models.Order, error) {
	side := "buy"
	if req.Direction == models.Credit {
		side = "sell"
	}
	body := map[string]interface{}{
		"account":      r.accountURL,
		"chain_symbol": req.Ticker,
		"direction":    string(req.Direction),
		"price":        fmt.Sprintf("%.2f", req.Price),
		"quantity":     fmt.Sprintf("%.0f", req.Quantity),
		"type":         "limit",
		"time_in_force": func() string {
			if req.TIF == "" {
				return "gfd"
			}
			return req.TIF
		}(),
		"trigger": "immediate",
		"ref_id":  uuid.NewString(),
		"legs": []map[string]interface{}{{
			"expiration_date": req.Expr,
			"option_type":     string(req.OptionType),
			"strike_price":    fmt.Sprintf("%.4f", req.Strike),
			"side":            side,
			"position_effect": req.Effect,
			"ratio_quantity":  "1",
		}},
	}

	var payload orderPayload
	if err := r.makeRequestCtx(ctx, http.MethodPost, r.baseURL+"/options/orders/", body, &payload); err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, nil
	}
	return payload.toOrder()
}

// SubmitSpreadOrder submits a multi-leg spread as a single order.
func (r *RobinhoodAPI) SubmitSpreadOrder(ctx context.Context, req SpreadOrderRequest) (*models.Order, error) {
	legs := make([]map[string]interface{}, 0, len(req.Legs))
	for _, l := range req.Legs {
		legs = append(legs, map[string]interface{}{
			"expiration_date": l.Expr,
			"option_type":     string(l.OptionType),
			"strike_price":    fmt.Sprintf("%.4f", l.Strike),
			"side":            l.Side,
			"position_effect": l.Effect,
			"ratio_quantity":  "1",
		})
	}
	body := map[string]interface{}{
		"account":      r.accountURL,
		"chain_symbol": req.Ticker,
		"direction":    string(req.Direction),
		"price":        fmt.Sprintf("%.2f", req.Price),
		"quantity":     fmt.Sprintf("%.0f", req.Quantity),
		"type":         "limit",
		"time_in_force": func() string {
			if req.TIF == "" {
				return "gfd"
			}
			return req.TIF
		}(),
		"trigger": "immediate",
		"ref_id":  uuid.NewString(),
		"legs":    legs,
	}

	var payload orderPayload
	if err := r.makeRequestCtx(ctx, http.MethodPost, r.baseURL+"/options/orders/", body, &payload); err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, nil
	}
	return payload.toOrder()
}

// CancelOrder requests cancellation. False with a nil error means the
// brokerage declined the cancel (typically a terminal order).
func (r *RobinhoodAPI) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/options/orders/%s/cancel/", r.baseURL, orderID)
	err := r.makeRequestCtx(ctx, http.MethodPost, endpoint, nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetOrder fetches the current brokerage snapshot of one order.
func (r *RobinhoodAPI) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	endpoint := fmt.Sprintf("%s/options/orders/%s/", r.baseURL, orderID)
	var payload orderPayload
	if err := r.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return nil, err
	}
	return payload.toOrder()
}

// GetOptionChain retrieves every strike for a ticker and expiration, walking
// cursor pagination until exhausted.
func (r *RobinhoodAPI) GetOptionChain(ctx context.Context, ticker, expr string) ([]ChainRow, error) {
	params := url.Values{}
	params.Set("chain_symbol", ticker)
	params.Set("expiration_dates", expr)
	params.Set("state", "active")
	return r.collectChain(ctx, r.baseURL+"/options/instruments/?"+params.Encode())
}

// GetOptionChainByStrike retrieves the chain rows at a single strike.
func (r *RobinhoodAPI) GetOptionChainByStrike(ctx context.Context, ticker, expr string, strike float64) ([]ChainRow, error) {
	params := url.Values{}
	params.Set("chain_symbol", ticker)
	params.Set("expiration_dates", expr)
	params.Set("state", "active")
	params.Set("strike_price", fmt.Sprintf("%.4f", strike))
	return r.collectChain(ctx, r.baseURL+"/options/instruments/?"+params.Encode())
}

func (r *RobinhoodAPI) collectChain(ctx context.Context, endpoint string) ([]ChainRow, error) {
	var rows []ChainRow
	for endpoint != "" {
		var page chainPage
		if err := r.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}
		for i := range page.Results {
			row := page.Results[i].toChainRow()
			if row.Incomplete {
				r.logger.Warnf("chain row %s %s has unparseable quote fields, marking incomplete",
					page.Results[i].Type, page.Results[i].StrikePrice)
			}
			rows = append(rows, row)
		}
		endpoint = page.Next
	}
	return rows, nil
}

// GetQuote retrieves the last trade price of the underlying.
func (r *RobinhoodAPI) GetQuote(ctx context.Context, ticker string) (float64, error) {
	endpoint := fmt.Sprintf("%s/quotes/%s/", r.baseURL, url.PathEscape(ticker))
	var payload quotePayload
	if err := r.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return 0, err
	}
	price, err := parsePrice(payload.LastTradePrice)
	if err != nil {
		return 0, fmt.Errorf("quote for %s: %w", ticker, err)
	}
	return price, nil
}

// GetMarketHours retrieves the session schedule for one ISO date.
func (r *RobinhoodAPI) GetMarketHours(ctx context.Context, isoDate string) (*MarketHours, error) {
	endpoint := fmt.Sprintf("%s/markets/XNYS/hours/%s/", r.baseURL, isoDate)
	var payload marketHoursPayload
	if err := r.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return nil, err
	}
	hours := &MarketHours{IsOpen: payload.IsOpen}
	if !payload.IsOpen {
		return hours, nil
	}
	var err error
	if hours.OpensAt, err = time.Parse(time.RFC3339, payload.OpensAt); err != nil {
		return nil, fmt.Errorf("market hours %s: %w", isoDate, err)
	}
	if hours.ClosesAt, err = time.Parse(time.RFC3339, payload.ClosesAt); err != nil {
		return nil, fmt.Errorf("market hours %s: %w", isoDate, err)
	}
	return hours, nil
}

// GetExpirations retrieves the available expiration dates for a ticker's
// option chain, ascending.
func (r *RobinhoodAPI) GetExpirations(ctx context.Context, ticker string) ([]string, error) {
	params := url.Values{}
	params.Set("equity_symbol", ticker)
	endpoint := r.baseURL + "/options/chains/?" + params.Encode()
	var page struct {
		Results []expirationsPayload `json:"results"`
	}
	if err := r.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
		return nil, err
	}
	if len(page.Results) == 0 {
		return nil, fmt.Errorf("no option chain found for %s", ticker)
	}
	return page.Results[0].ExpirationDates, nil
}

// makeRequestCtx performs one authenticated JSON round trip. Non-2xx
// responses become APIError with the (truncated) body as the message.
func (r *RobinhoodAPI) makeRequestCtx(ctx context.Context, method, endpoint string,
	body map[string]interface{}, response interface{}) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}
	req.Header.Add("Authorization", "Bearer "+r.token)
	req.Header.Add("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Warnf("failed to close response body: %v", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, rerr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if rerr != nil {
			return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("%s %s -> %s", method, endpoint, string(raw))}
	}

	if response == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, endpoint, err)
	}
	return nil
}
