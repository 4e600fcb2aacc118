package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantedge/tradecore/internal/domain"
)

// envelope is the response shape every broker endpoint wraps its payload
// in, the way the teacher's tradernet.ServiceResponse does.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
	Code    int             `json:"code"`
}

// HTTPBroker is a thin REST client implementing Broker against the
// generic broker contract of spec §6. It carries the teacher's
// post/get/parseResponse request-envelope idiom, retargeted from
// Tradernet's EUR securities API to the engine's Broker interface.
type HTTPBroker struct {
	baseURL   string
	client    *http.Client
	log       zerolog.Logger
	apiKey    string
	apiSecret string
}

// NewHTTPBroker builds an HTTPBroker against baseURL with a bounded
// per-request timeout.
func NewHTTPBroker(baseURL, apiKey, apiSecret string, log zerolog.Logger) *HTTPBroker {
	return &HTTPBroker{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log.With().Str("client", "broker").Logger(),
	}
}

func (b *HTTPBroker) do(ctx context.Context, method, endpoint string, body interface{}) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("X-API-Key", b.apiKey)
	}
	if b.apiSecret != "" {
		req.Header.Set("X-API-Secret", b.apiSecret)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrTransient, Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrTransient, Op: endpoint, Err: fmt.Errorf("read response: %w", err)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &Error{Kind: ErrTransient, Op: endpoint, Err: fmt.Errorf("parse response: %w", err)}
	}

	if !env.Success {
		kind := classifyStatus(resp.StatusCode)
		msg := "unknown broker error"
		if env.Error != nil {
			msg = *env.Error
		}
		return &env, &Error{Kind: kind, Op: endpoint, Err: fmt.Errorf("%s", msg)}
	}

	return &env, nil
}

func classifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusTooManyRequests || code >= 500:
		return ErrTransient
	case code >= 400:
		return ErrValidation
	default:
		return ErrPermanent
	}
}

type accountDTO struct {
	Cash          string `json:"cash"`
	BuyingPower   string `json:"buying_power"`
	MarginEnabled bool   `json:"margin_enabled"`
	Leverage      string `json:"leverage"`
}

func (b *HTTPBroker) GetAccount(ctx context.Context) (Account, error) {
	env, err := b.do(ctx, http.MethodGet, "/v1/account", nil)
	if err != nil {
		return Account{}, err
	}

	var dto accountDTO
	if err := json.Unmarshal(env.Data, &dto); err != nil {
		return Account{}, &Error{Kind: ErrTransient, Op: "GetAccount", Err: err}
	}

	cash, _ := decimal.NewFromString(dto.Cash)
	bp, _ := decimal.NewFromString(dto.BuyingPower)
	lev, _ := decimal.NewFromString(dto.Leverage)
	return Account{Cash: cash, BuyingPower: bp, MarginEnabled: dto.MarginEnabled, Leverage: lev}, nil
}

type positionDTO struct {
	Symbol       string `json:"symbol"`
	Quantity     string `json:"quantity"`
	AverageEntry string `json:"average_entry_price"`
}

func (b *HTTPBroker) GetPositions(ctx context.Context) (map[domain.Symbol]domain.Position, error) {
	env, err := b.do(ctx, http.MethodGet, "/v1/positions", nil)
	if err != nil {
		return nil, err
	}

	var dtos []positionDTO
	if err := json.Unmarshal(env.Data, &dtos); err != nil {
		return nil, &Error{Kind: ErrTransient, Op: "GetPositions", Err: err}
	}

	positions := make(map[domain.Symbol]domain.Position, len(dtos))
	for _, d := range dtos {
		sym, err := domain.NewSymbol(d.Symbol)
		if err != nil {
			continue
		}
		qty, _ := decimal.NewFromString(d.Quantity)
		avg, _ := decimal.NewFromString(d.AverageEntry)
		positions[sym] = domain.Position{Symbol: sym, Quantity: qty, AverageEntryPrice: avg}
	}
	return positions, nil
}

type placeOrderDTO struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Quantity      string `json:"quantity"`
	LimitPrice    string `json:"limit_price"`
	TimeInForce   string `json:"time_in_force"`
}

type orderStatusDTO struct {
	BrokerOrderID  string `json:"broker_order_id"`
	Status         string `json:"status"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
}

func (b *HTTPBroker) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (OrderStatusReport, error) {
	dto := placeOrderDTO{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol.String(),
		Side:          string(req.Side),
		Quantity:      req.Quantity.String(),
		LimitPrice:    req.LimitPrice.String(),
		TimeInForce:   req.TimeInForce,
	}

	env, err := b.do(ctx, http.MethodPost, "/v1/orders", dto)
	if err != nil {
		return OrderStatusReport{}, err
	}
	return decodeOrderStatus(env.Data)
}

func (b *HTTPBroker) GetOrder(ctx context.Context, brokerOrderID string) (OrderStatusReport, error) {
	env, err := b.do(ctx, http.MethodGet, "/v1/orders/"+brokerOrderID, nil)
	if err != nil {
		return OrderStatusReport{}, err
	}
	return decodeOrderStatus(env.Data)
}

func decodeOrderStatus(raw json.RawMessage) (OrderStatusReport, error) {
	var dto orderStatusDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return OrderStatusReport{}, &Error{Kind: ErrTransient, Op: "decodeOrderStatus", Err: err}
	}
	filledQty, _ := decimal.NewFromString(dto.FilledQty)
	filledAvg, _ := decimal.NewFromString(dto.FilledAvgPrice)
	return OrderStatusReport{
		BrokerOrderID:  dto.BrokerOrderID,
		Status:         domain.OrderStatus(dto.Status),
		FilledQty:      filledQty,
		FilledAvgPrice: filledAvg,
		UpdatedAt:      time.Now().UTC(),
	}, nil
}

func (b *HTTPBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := b.do(ctx, http.MethodDelete, "/v1/orders/"+brokerOrderID, nil)
	return err
}

type barDTO struct {
	Timestamp string `json:"t"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
}

func (b *HTTPBroker) GetHistoricalBars(ctx context.Context, symbol domain.Symbol, from, to time.Time) ([]Bar, error) {
	endpoint := fmt.Sprintf("/v1/bars/%s?from=%s&to=%s", symbol, from.Format(time.RFC3339), to.Format(time.RFC3339))
	env, err := b.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var dtos []barDTO
	if err := json.Unmarshal(env.Data, &dtos); err != nil {
		return nil, &Error{Kind: ErrTransient, Op: "GetHistoricalBars", Err: err}
	}

	bars := make([]Bar, 0, len(dtos))
	for _, d := range dtos {
		ts, _ := time.Parse(time.RFC3339, d.Timestamp)
		o, _ := decimal.NewFromString(d.Open)
		h, _ := decimal.NewFromString(d.High)
		l, _ := decimal.NewFromString(d.Low)
		c, _ := decimal.NewFromString(d.Close)
		v, _ := decimal.NewFromString(d.Volume)
		bars = append(bars, Bar{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: v})
	}
	return bars, nil
}
