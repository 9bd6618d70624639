package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fxbot-go/internal/signal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrBridge marks a bridge answer that is neither a fill nor a broker decision.
var ErrBridge = errors.New("mt5 bridge error")

// BridgeClient talks to the MT5 HTTP bridge. It is a BrokerClient and also serves
// live quotes and candle history.
type BridgeClient struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

// NewBridgeClient points at baseURL; the timeout caps every HTTP round trip.
func NewBridgeClient(baseURL, token string, timeout time.Duration, log zerolog.Logger) *BridgeClient {
	if timeout <= 0 {
		timeout = defaultBrokerTimeout
	}
	return &BridgeClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// MT5 trade request constants the bridge forwards to order_send unchanged.
const (
	tradeActionDeal    = 1
	tradeActionPending = 5
	orderTypeBuy       = 0
	orderTypeSell      = 1
	orderTypeBuyLimit  = 2
	orderTypeSellLimit = 3
	retcodeDone        = 10009
)

type bridgeOrderRequest struct {
	Action   int     `json:"action"`
	Symbol   string  `json:"symbol"`
	Volume   float64 `json:"volume"`
	Type     int     `json:"type"`
	Position int64   `json:"position,omitempty"`
	Comment  string  `json:"comment,omitempty"`
}

type bridgeOrderResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Result  struct {
		Order      int64               `json:"order"`
		Price      decimal.Decimal     `json:"price"`
		Volume     decimal.Decimal     `json:"volume"`
		Commission decimal.Decimal     `json:"commission"`
		Profit     decimal.NullDecimal `json:"profit"`
		Retcode    int                 `json:"retcode"`
		Comment    string              `json:"comment"`
	} `json:"order_result"`
}

type bridgeError struct {
	Error string `json:"error"`
}

type bridgeAccount struct {
	Balance decimal.Decimal `json:"balance"`
	Equity  decimal.Decimal `json:"equity"`
}

type bridgeTick struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Time   int64   `json:"time"`
}

type bridgeRates struct {
	Symbol string `json:"symbol"`
	Rates  []struct {
		Time       int64   `json:"time"`
		Open       float64 `json:"open"`
		High       float64 `json:"high"`
		Low        float64 `json:"low"`
		Close      float64 `json:"close"`
		TickVolume float64 `json:"tick_volume"`
	} `json:"rates"`
}

type bridgePosition struct {
	Ticket int64   `json:"ticket"`
	Symbol string  `json:"symbol"`
	Type   int     `json:"type"` // 0 buy, 1 sell
	Volume float64 `json:"volume"`
}

// PlaceOrder sends the order to the terminal. A 4xx answer, success=false or a
// retcode other than TRADE_RETCODE_DONE is a broker rejection; 5xx and transport
// problems are errors.
func (c *BridgeClient) PlaceOrder(ctx context.Context, req OrderRequest) (BrokerResult, error) {
	action, typ, err := mt5OrderType(req.Action, req.OrderType)
	if err != nil {
		return BrokerResult{Success: false, Error: err.Error()}, nil
	}
	body := bridgeOrderRequest{
		Action:  action,
		Symbol:  req.Instrument,
		Volume:  req.Quantity.InexactFloat64(),
		Type:    typ,
		Comment: req.ClientID,
	}
	resp, reason, err := c.sendOrder(ctx, body)
	if err != nil {
		return BrokerResult{}, err
	}
	if reason != "" {
		return BrokerResult{Success: false, Error: reason}, nil
	}
	return BrokerResult{
		Success:    true,
		OrderID:    strconv.FormatInt(resp.Result.Order, 10),
		Price:      resp.Result.Price,
		Commission: resp.Result.Commission,
		PnL:        resp.Result.Profit,
	}, nil
}

// sendOrder posts one trade request. reason is set when the broker refused it.
func (c *BridgeClient) sendOrder(ctx context.Context, body bridgeOrderRequest) (bridgeOrderResponse, string, error) {
	var resp bridgeOrderResponse
	status, raw, err := c.do(ctx, http.MethodPost, "/order_send", body)
	if err != nil {
		return resp, "", err
	}
	if status >= 500 {
		return resp, "", fmt.Errorf("%w: order_send status %d: %s", ErrBridge, status, errorText(raw))
	}
	if status >= 400 {
		return resp, errorText(raw), nil
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return resp, "", fmt.Errorf("%w: decode order_send: %v", ErrBridge, err)
	}
	switch {
	case !resp.Success && resp.Error != "":
		return resp, resp.Error, nil
	case !resp.Success && resp.Result.Comment != "":
		return resp, resp.Result.Comment, nil
	case !resp.Success:
		return resp, "rejected by broker", nil
	case resp.Result.Retcode != retcodeDone:
		if resp.Result.Comment != "" {
			return resp, resp.Result.Comment, nil
		}
		return resp, fmt.Sprintf("retcode %d", resp.Result.Retcode), nil
	}
	return resp, "", nil
}

// mt5OrderType maps a direction and order kind to the trade action and ORDER_TYPE_* code.
func mt5OrderType(action signal.Action, kind OrderType) (int, int, error) {
	var buy bool
	switch action {
	case signal.Buy:
		buy = true
	case signal.Sell:
	default:
		return 0, 0, fmt.Errorf("unsupported action %q", action)
	}
	switch kind {
	case Market, "":
		if buy {
			return tradeActionDeal, orderTypeBuy, nil
		}
		return tradeActionDeal, orderTypeSell, nil
	case Limit:
		if buy {
			return tradeActionPending, orderTypeBuyLimit, nil
		}
		return tradeActionPending, orderTypeSellLimit, nil
	default:
		return 0, 0, fmt.Errorf("unsupported order type %q", kind)
	}
}

// AccountBalance returns the account balance reported by the terminal.
func (c *BridgeClient) AccountBalance(ctx context.Context) (decimal.Decimal, error) {
	var acct bridgeAccount
	if err := c.getJSON(ctx, "/account_info", &acct); err != nil {
		return decimal.Zero, err
	}
	return acct.Balance, nil
}

// Latest returns the current bid/ask; ok is false when the bridge has no tick.
func (c *BridgeClient) Latest(ctx context.Context, instrument string) (signal.Quote, bool, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/tick/"+url.PathEscape(instrument), nil)
	if err != nil {
		return signal.Quote{}, false, err
	}
	if status == http.StatusNotFound {
		return signal.Quote{}, false, nil
	}
	if status != http.StatusOK {
		return signal.Quote{}, false, fmt.Errorf("%w: tick status %d: %s", ErrBridge, status, errorText(raw))
	}
	var tick bridgeTick
	if err := json.Unmarshal(raw, &tick); err != nil {
		return signal.Quote{}, false, fmt.Errorf("%w: decode tick: %v", ErrBridge, err)
	}
	return signal.Quote{
		Instrument: instrument,
		Bid:        tick.Bid,
		Ask:        tick.Ask,
		Time:       time.Unix(tick.Time, 0).UTC(),
	}, true, nil
}

// Rates fetches the latest count candles of the given timeframe (M1, M5, H1, ...),
// oldest first.
func (c *BridgeClient) Rates(ctx context.Context, instrument, timeframe string, count int) ([]signal.Bar, error) {
	q := url.Values{}
	q.Set("timeframe", timeframe)
	q.Set("count", strconv.Itoa(count))
	var rates bridgeRates
	if err := c.getJSON(ctx, "/rates/"+url.PathEscape(instrument)+"?"+q.Encode(), &rates); err != nil {
		return nil, err
	}
	bars := make([]signal.Bar, 0, len(rates.Rates))
	for _, r := range rates.Rates {
		bars = append(bars, signal.Bar{
			Time:   time.Unix(r.Time, 0).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.TickVolume,
		})
	}
	return bars, nil
}

// CloseAllPositions sends an opposing deal for every open position and reports
// the ones that could not be closed.
func (c *BridgeClient) CloseAllPositions(ctx context.Context) error {
	var positions []bridgePosition
	if err := c.getJSON(ctx, "/positions", &positions); err != nil {
		return err
	}
	var errs []error
	for _, p := range positions {
		typ := orderTypeSell
		if p.Type == orderTypeSell {
			typ = orderTypeBuy
		}
		body := bridgeOrderRequest{
			Action:   tradeActionDeal,
			Symbol:   p.Symbol,
			Volume:   p.Volume,
			Type:     typ,
			Position: p.Ticket,
			Comment:  "close all",
		}
		_, reason, err := c.sendOrder(ctx, body)
		if err == nil && reason != "" {
			err = fmt.Errorf("close %d: %s", p.Ticket, reason)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c.log.Info().Int64("ticket", p.Ticket).Str("instrument", p.Symbol).Msg("position closed")
	}
	return errors.Join(errs...)
}

func (c *BridgeClient) getJSON(ctx context.Context, path string, out any) error {
	status, raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: GET %s status %d: %s", ErrBridge, path, status, errorText(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrBridge, path, err)
	}
	return nil
}

func (c *BridgeClient) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

func errorText(raw []byte) string {
	var e bridgeError
	if err := json.Unmarshal(raw, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(raw))
}
