package dmarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/targetlab/dmbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// PriceUpdate is one market price tick from the ws stream.
type PriceUpdate struct {
	Game  domain.Game
	Title string
	Price float64
	At    time.Time
}

// PriceUpdateHandler is called for each price tick received on the stream.
type PriceUpdateHandler func(PriceUpdate)

// wsCommand is a subscribe/unsubscribe frame.
type wsCommand struct {
	Type   string   `json:"Type"`
	Topics []string `json:"Topics"`
}

// wsMessage is an inbound stream frame. Only market-update frames carry the
// price fields; other frame types are ignored.
type wsMessage struct {
	Type      string `json:"Type"`
	GameID    string `json:"GameID"`
	Title     string `json:"Title"`
	Price     string `json:"Price"` // cents
	Timestamp int64  `json:"Timestamp"`
}

// WSClient is the WebSocket client for the marketplace's market-data stream.
// It manages the connection lifecycle and dispatches price ticks to the
// registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.Mutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []wsCommand

	handlerMu     sync.RWMutex
	priceHandlers []PriceUpdateHandler

	done chan struct{}
}

// NewWSClient creates a client for the given stream endpoint, e.g.
// "wss://ws.dmarket.com".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// OnPriceUpdate registers a handler invoked for every price tick.
func (w *WSClient) OnPriceUpdate(h PriceUpdateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.priceHandlers = append(w.priceHandlers, h)
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Previously requested subscriptions are replayed.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("dmarket/ws: client closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dmarket/ws: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	for _, cmd := range w.subscriptions {
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("dmarket/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to market updates for the given games.
func (w *WSClient) Subscribe(ctx context.Context, games []domain.Game) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("dmarket/ws: not connected")
	}

	topics := make([]string, 0, len(games))
	for _, g := range games {
		id, err := GameID(g)
		if err != nil {
			return err
		}
		topics = append(topics, "market:update:"+id)
	}

	cmd := wsCommand{Type: "subscribe", Topics: topics}
	if err := w.sendCommand(cmd); err != nil {
		return fmt.Errorf("dmarket/ws: subscribe: %w", err)
	}

	// Track subscription for reconnection.
	w.subscriptions = append(w.subscriptions, cmd)
	return nil
}

// Close shuts the connection down. The client cannot be reused afterwards.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		w.closed = true
		close(w.done)
	}

	if w.conn != nil {
		w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		return w.conn.Close()
	}
	return nil
}

// Err returns a channel that is closed when the connection drops or Close is
// called. Callers use it to drive reconnection.
func (w *WSClient) Err() <-chan struct{} {
	return w.done
}

func (w *WSClient) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(cmd)
}

func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer w.signalDone()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "market:update" {
			continue
		}

		game, ok := gamesByID[msg.GameID]
		if !ok {
			continue
		}
		price, err := parseCents(msg.Price)
		if err != nil {
			continue
		}

		update := PriceUpdate{
			Game:  game,
			Title: msg.Title,
			Price: price,
			At:    time.Unix(msg.Timestamp, 0).UTC(),
		}

		w.handlerMu.RLock()
		handlers := w.priceHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(update)
		}
	}
}

func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-w.done:
			return
		}
	}
}

// signalDone closes done once, regardless of whether the drop came from the
// read loop or from Close.
func (w *WSClient) signalDone() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.done)
	}
}
