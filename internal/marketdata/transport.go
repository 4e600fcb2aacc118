package marketdata

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"nhooyr.io/websocket"

	"github.com/quantedge/tradecore/internal/domain"
)

// MessageKind distinguishes a wire update's payload.
type MessageKind string

const (
	MessageQuote MessageKind = "quote"
	MessageTrade MessageKind = "trade"
)

// Message is one decoded wire update, ready for the Store.
type Message struct {
	Kind  MessageKind
	Quote domain.Quote
	Trade domain.Trade
}

// Transport is the streaming I/O seam: production code dials a real
// WebSocket, tests substitute a scripted fake. Mirrors the teacher's
// MarketStatusWebSocket Connect/Read/Disconnect trio, generalized to an
// interface so the reconnect loop and Store can be exercised without a
// socket.
type Transport interface {
	// Connect dials the transport and subscribes to symbols, returning once
	// the connection is ready to read.
	Connect(ctx context.Context, symbols []domain.Symbol) error
	// Read blocks for the next decoded message.
	Read(ctx context.Context) (Message, error)
	Close() error
}

const dialTimeout = 30 * time.Second

// wireSubscribeMessage is the subscription frame sent once per connect,
// generalized from the teacher's ["markets"] subscribe payload to a
// symbol list.
type wireSubscribeMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// wireUpdate is one decoded frame: {"channel": "quote"|"trade", ...fields}.
type wireUpdate struct {
	Channel   string  `json:"channel"`
	Symbol    string  `json:"symbol"`
	BidPrice  string  `json:"bid_price,omitempty"`
	AskPrice  string  `json:"ask_price,omitempty"`
	BidSize   string  `json:"bid_size,omitempty"`
	AskSize   string  `json:"ask_size,omitempty"`
	Price     string  `json:"price,omitempty"`
	Size      string  `json:"size,omitempty"`
	Volume    string  `json:"volume,omitempty"`
	Timestamp float64 `json:"timestamp"` // unix seconds
}

// WSTransport is the production Transport, dialing a real streaming
// endpoint with nhooyr.io/websocket. HTTP/1.1 is forced the way the
// teacher's createHTTP1Client does, since some streaming gateways
// negotiate HTTP/2 via ALPN and break the WebSocket upgrade handshake.
type WSTransport struct {
	url        string
	httpClient *http.Client
	conn       *websocket.Conn
}

// NewWSTransport builds a WSTransport pointed at url.
func NewWSTransport(url string) *WSTransport {
	return &WSTransport{url: url, httpClient: http1Client()}
}

func http1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig:   &tls.Config{NextProtos: []string{"http/1.1"}},
			ForceAttemptHTTP2: false,
		},
	}
}

// Connect dials the endpoint and sends the subscription frame for
// symbols.
func (w *WSTransport) Connect(ctx context.Context, symbols []domain.Symbol) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, w.url, &websocket.DialOptions{HTTPClient: w.httpClient})
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	w.conn = conn

	names := make([]string, len(symbols))
	for i, sym := range symbols {
		names[i] = sym.String()
	}
	payload, err := json.Marshal(wireSubscribeMessage{Action: "subscribe", Symbols: names})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "marshal subscribe")
		return fmt.Errorf("marshal subscribe message: %w", err)
	}

	writeCtx, writeCancel := context.WithTimeout(ctx, 10*time.Second)
	defer writeCancel()
	if err := conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		w.conn = nil
		return fmt.Errorf("send subscribe message: %w", err)
	}

	return nil
}

// Read blocks for the next frame and decodes it into a Message.
func (w *WSTransport) Read(ctx context.Context) (Message, error) {
	if w.conn == nil {
		return Message{}, fmt.Errorf("read on a closed transport")
	}

	msgType, raw, err := w.conn.Read(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("read stream: %w", err)
	}
	if msgType != websocket.MessageText {
		return Message{}, nil
	}

	var update wireUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return Message{}, fmt.Errorf("decode stream frame: %w", err)
	}

	return decodeMessage(update)
}

// Close closes the underlying connection.
func (w *WSTransport) Close() error {
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close(websocket.StatusNormalClosure, "")
	w.conn = nil
	return err
}

func decodeMessage(update wireUpdate) (Message, error) {
	ts := time.Unix(0, int64(update.Timestamp*float64(time.Second)))
	sym, err := domain.NewSymbol(update.Symbol)
	if err != nil {
		return Message{}, fmt.Errorf("decode symbol: %w", err)
	}

	switch update.Channel {
	case string(MessageQuote):
		bid, err := decimal.NewFromString(zeroIfEmpty(update.BidPrice))
		if err != nil {
			return Message{}, fmt.Errorf("decode bid_price: %w", err)
		}
		ask, err := decimal.NewFromString(zeroIfEmpty(update.AskPrice))
		if err != nil {
			return Message{}, fmt.Errorf("decode ask_price: %w", err)
		}
		bidSize, err := decimal.NewFromString(zeroIfEmpty(update.BidSize))
		if err != nil {
			return Message{}, fmt.Errorf("decode bid_size: %w", err)
		}
		askSize, err := decimal.NewFromString(zeroIfEmpty(update.AskSize))
		if err != nil {
			return Message{}, fmt.Errorf("decode ask_size: %w", err)
		}
		return Message{Kind: MessageQuote, Quote: domain.Quote{
			Symbol: sym, BidPrice: bid, AskPrice: ask, BidSize: bidSize, AskSize: askSize, Timestamp: ts,
		}}, nil
	case string(MessageTrade):
		price, err := decimal.NewFromString(zeroIfEmpty(update.Price))
		if err != nil {
			return Message{}, fmt.Errorf("decode price: %w", err)
		}
		size, err := decimal.NewFromString(zeroIfEmpty(update.Size))
		if err != nil {
			return Message{}, fmt.Errorf("decode size: %w", err)
		}
		volume, err := decimal.NewFromString(zeroIfEmpty(update.Volume))
		if err != nil {
			return Message{}, fmt.Errorf("decode volume: %w", err)
		}
		return Message{Kind: MessageTrade, Trade: domain.Trade{
			Symbol: sym, Price: price, Size: size, Volume: volume, Timestamp: ts,
		}}, nil
	default:
		return Message{}, fmt.Errorf("unknown stream channel %q", update.Channel)
	}
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
