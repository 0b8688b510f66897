package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"cross-arb-bot/internal/venue"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Feed keeps a warm order-book cache from a venue's depth stream so scan
// cycles can skip the REST round trip. Books older than the freshness
// window are simply not returned; the caller falls back to REST.
type Feed struct {
	venueName      string
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	depth          int
	log            *zap.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	symbols []string
	books   map[string]venue.OrderBook
}

func New(venueName, url string, reconnectDelay, pingInterval time.Duration, depth int, log *zap.Logger) *Feed {
	return &Feed{
		venueName:      venueName,
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		depth:          depth,
		log:            log,
		books:          make(map[string]venue.OrderBook),
	}
}

// Watch registers symbols to subscribe on the next (re)connect.
func (f *Feed) Watch(symbols []string) {
	f.mu.Lock()
	f.symbols = append([]string(nil), symbols...)
	f.mu.Unlock()
}

// Book returns the cached snapshot for a symbol if one has arrived.
func (f *Feed) Book(symbol string) (venue.OrderBook, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	book, ok := f.books[symbol]
	return book, ok
}

func (f *Feed) Run(ctx context.Context) error {
	for {
		if err := f.connectAndSubscribe(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn("book feed connect failed", zap.String("venue", f.venueName), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.reconnectDelay):
			}
			continue
		}
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			f.pingLoop(pingCtx)
		}()
		err := f.readLoop(ctx)
		cancel()
		<-pingDone
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warn("book feed read loop ended", zap.String("venue", f.venueName), zap.Error(err))
		f.resetConn()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnectDelay):
		}
	}
}

type subscribeMsg struct {
	Op      string `json:"op"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
	Depth   int    `json:"depth"`
}

func (f *Feed) connectAndSubscribe(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, f.url, nil)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.conn = conn
	symbols := append([]string(nil), f.symbols...)
	f.mu.Unlock()
	for _, symbol := range symbols {
		sub := subscribeMsg{Op: "subscribe", Channel: "depth", Symbol: symbol, Depth: f.depth}
		if err := writeJSON(ctx, conn, sub); err != nil {
			f.resetConn()
			return err
		}
	}
	return nil
}

type depthMsg struct {
	Channel string       `json:"channel"`
	Symbol  string       `json:"symbol"`
	Bids    [][2]float64 `json:"bids"`
	Asks    [][2]float64 `json:"asks"`
	TS      int64        `json:"ts"`
}

func (f *Feed) readLoop(ctx context.Context) error {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		f.handle(data)
	}
}

func (f *Feed) handle(data []byte) {
	var msg depthMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Channel != "depth" || msg.Symbol == "" {
		return
	}
	captured := time.UnixMilli(msg.TS).UTC()
	if msg.TS == 0 {
		captured = time.Now().UTC()
	}
	book := venue.OrderBook{
		Venue:    f.venueName,
		Symbol:   msg.Symbol,
		Bids:     levels(msg.Bids),
		Asks:     levels(msg.Asks),
		Captured: captured,
	}
	if book.Empty() {
		return
	}
	f.mu.Lock()
	f.books[msg.Symbol] = book
	f.mu.Unlock()
}

func levels(raw [][2]float64) []venue.Level {
	out := make([]venue.Level, 0, len(raw))
	for _, pair := range raw {
		out = append(out, venue.Level{Price: pair[0], Size: pair[1]})
	}
	return out
}

func (f *Feed) pingLoop(ctx context.Context) {
	f.mu.RLock()
	conn := f.conn
	interval := f.pingInterval
	f.mu.RUnlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, map[string]string{"op": "ping"}); err != nil {
				return
			}
		}
	}
}

func (f *Feed) resetConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close(websocket.StatusNormalClosure, "reset")
		f.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
