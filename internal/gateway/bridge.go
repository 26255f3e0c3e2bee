package gateway

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed frames.schema.json
var framesSchemaJSON []byte

const (
	framesSchemaURL    = "https://starlane.dev/schemas/bridge-frames.schema.json"
	defaultCallTimeout = 10 * time.Second
	writeWait          = 5 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = 50 * time.Second
	sendBuffer         = 256
)

// outFrame is a command sent to the platform side.
type outFrame struct {
	Op          string          `json:"op"`
	Seq         uint64          `json:"seq"`
	Channel     ChannelRef      `json:"channel,omitempty"`
	Message     string          `json:"message,omitempty"`
	UserID      int64           `json:"user_id,omitempty"`
	Category    string          `json:"category,omitempty"`
	Name        string          `json:"name,omitempty"`
	Allow       *bool           `json:"allow,omitempty"`
	Embed       *Embed          `json:"embed,omitempty"`
	Reply       *Reply          `json:"reply,omitempty"`
	View        *View           `json:"view,omitempty"`
	Interaction *InteractionRef `json:"interaction,omitempty"`
}

// inFrame is anything the platform side sends back.
type inFrame struct {
	Op          string       `json:"op"`
	Seq         uint64       `json:"seq"`
	Ref         string       `json:"ref"`
	Error       string       `json:"error"`
	Interaction *Interaction `json:"interaction"`
}

type ack struct {
	ref string
	err error
}

type outbound struct {
	payload []byte
	result  chan error
}

type bridgeClient struct {
	bridge *Bridge
	conn   *websocket.Conn
	send   chan []byte
}

// Dispatcher receives inbound interactions.
type Dispatcher func(ctx context.Context, in Interaction)

// Bridge implements Gateway over websocket connections from the platform
// side. Commands go to the most recently connected client and block until
// that client acks them.
type Bridge struct {
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	schema      *jsonschema.Schema
	callTimeout time.Duration

	register   chan *bridgeClient
	unregister chan *bridgeClient
	outbound   chan outbound

	seq       atomic.Uint64
	mu        sync.Mutex
	pending   map[uint64]chan ack
	dispatch  Dispatcher
	connected atomic.Int32
	base      context.Context
	done      chan struct{}
}

func NewBridge(logger *slog.Logger) (*Bridge, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(framesSchemaURL, bytes.NewReader(framesSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to load bridge frame schema: %w", err)
	}
	schema, err := compiler.Compile(framesSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile bridge frame schema: %w", err)
	}

	return &Bridge{
		logger: logger.With("component", "gateway_bridge"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		schema:      schema,
		callTimeout: defaultCallTimeout,
		register:    make(chan *bridgeClient),
		unregister:  make(chan *bridgeClient),
		outbound:    make(chan outbound),
		pending:     make(map[uint64]chan ack),
		base:        context.Background(),
		done:        make(chan struct{}),
	}, nil
}

// SetDispatcher installs the inbound interaction handler. Call before Run.
func (b *Bridge) SetDispatcher(d Dispatcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatch = d
}

func (b *Bridge) Connected() int {
	return int(b.connected.Load())
}

// Run owns the client set until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	logger := b.logger.With("operation", "run")
	b.mu.Lock()
	b.base = ctx
	b.mu.Unlock()
	defer close(b.done)

	var clients []*bridgeClient
	for {
		select {
		case <-ctx.Done():
			for _, c := range clients {
				close(c.send)
			}
			b.connected.Store(0)
			return nil

		case c := <-b.register:
			clients = append(clients, c)
			b.connected.Store(int32(len(clients)))
			logger.Info("Bridge client connected", "clients", len(clients))

		case c := <-b.unregister:
			for i, existing := range clients {
				if existing == c {
					clients = append(clients[:i], clients[i+1:]...)
					close(c.send)
					break
				}
			}
			b.connected.Store(int32(len(clients)))
			logger.Info("Bridge client disconnected", "clients", len(clients))

		case out := <-b.outbound:
			if len(clients) == 0 {
				out.result <- ErrNoBridge
				continue
			}
			target := clients[len(clients)-1]
			select {
			case target.send <- out.payload:
				out.result <- nil
			default:
				out.result <- errors.New("bridge client send buffer full")
			}
		}
	}
}

// ServeWS upgrades an authenticated request into a bridge connection.
func (b *Bridge) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("Bridge upgrade failed", "operation", "serve_ws", "error", err)
		return
	}

	c := &bridgeClient{bridge: b, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case b.register <- c:
	case <-b.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *bridgeClient) readPump() {
	defer func() {
		select {
		case c.bridge.unregister <- c:
		case <-c.bridge.done:
		}
		c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.bridge.logger.Warn("Bridge read error", "operation", "read", "error", err)
			}
			return
		}
		c.bridge.handleFrame(msg)
	}
}

func (c *bridgeClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ValidateFrame checks raw inbound JSON against the frame schema.
func (b *Bridge) ValidateFrame(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("malformed frame: %w", err)
	}
	if err := b.schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid frame: %w", err)
	}
	return nil
}

func (b *Bridge) handleFrame(raw []byte) {
	logger := b.logger.With("operation", "handle_frame")
	if err := b.ValidateFrame(raw); err != nil {
		logger.Warn("Rejected bridge frame", "error", err)
		return
	}

	var f inFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		logger.Warn("Failed to decode bridge frame", "error", err)
		return
	}

	switch f.Op {
	case "ack":
		b.mu.Lock()
		ch, ok := b.pending[f.Seq]
		b.mu.Unlock()
		if !ok {
			logger.Debug("Ack for unknown call", "seq", f.Seq)
			return
		}
		var err error
		if f.Error != "" {
			err = errors.New(f.Error)
		}
		select {
		case ch <- ack{ref: f.Ref, err: err}:
		default:
			logger.Debug("Duplicate ack ignored", "seq", f.Seq)
		}
	case "interaction":
		b.Dispatch(*f.Interaction)
	case "hello":
		logger.Debug("Bridge client hello")
	}
}

// Dispatch hands an interaction to the installed dispatcher on its own
// goroutine.
func (b *Bridge) Dispatch(in Interaction) {
	b.mu.Lock()
	d, ctx := b.dispatch, b.base
	b.mu.Unlock()

	if d == nil {
		b.logger.Warn("Dropping interaction, no dispatcher installed", "interaction_id", in.ID)
		return
	}
	go d(ctx, in)
}

func (b *Bridge) call(ctx context.Context, f outFrame) (string, error) {
	f.Seq = b.seq.Add(1)
	payload, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s frame: %w", f.Op, err)
	}

	ch := make(chan ack, 1)
	b.mu.Lock()
	b.pending[f.Seq] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, f.Seq)
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	out := outbound{payload: payload, result: make(chan error, 1)}
	select {
	case b.outbound <- out:
	case <-b.done:
		return "", fmt.Errorf("%s: %w", f.Op, ErrNoBridge)
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", f.Op, ctx.Err())
	}
	if err := <-out.result; err != nil {
		return "", fmt.Errorf("%s: %w", f.Op, err)
	}

	select {
	case a := <-ch:
		if a.err != nil {
			return "", fmt.Errorf("%s rejected by bridge: %w", f.Op, a.err)
		}
		return a.ref, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%s: no ack: %w", f.Op, ctx.Err())
	}
}

func (b *Bridge) Post(ctx context.Context, channel ChannelRef, embed Embed) (MessageRef, error) {
	ref, err := b.call(ctx, outFrame{Op: "post", Channel: channel, Embed: &embed})
	return MessageRef{Channel: channel, ID: ref}, err
}

func (b *Bridge) Edit(ctx context.Context, msg MessageRef, embed Embed) error {
	_, err := b.call(ctx, outFrame{Op: "edit", Channel: msg.Channel, Message: msg.ID, Embed: &embed})
	return err
}

func (b *Bridge) Reply(ctx context.Context, interaction InteractionRef, reply Reply) error {
	_, err := b.call(ctx, outFrame{Op: "reply", Interaction: &interaction, Reply: &reply})
	return err
}

func (b *Bridge) DirectMessage(ctx context.Context, userID int64, embed Embed) error {
	_, err := b.call(ctx, outFrame{Op: "dm", UserID: userID, Embed: &embed})
	return err
}

func (b *Bridge) CreateChannel(ctx context.Context, category, name string) (ChannelRef, error) {
	ref, err := b.call(ctx, outFrame{Op: "create_channel", Category: category, Name: name})
	return ChannelRef(ref), err
}

func (b *Bridge) DeleteChannel(ctx context.Context, channel ChannelRef) error {
	_, err := b.call(ctx, outFrame{Op: "delete_channel", Channel: channel})
	return err
}

func (b *Bridge) RenameChannel(ctx context.Context, channel ChannelRef, name string) error {
	_, err := b.call(ctx, outFrame{Op: "rename_channel", Channel: channel, Name: name})
	return err
}

func (b *Bridge) SetAccess(ctx context.Context, channel ChannelRef, userID int64, allow bool) error {
	_, err := b.call(ctx, outFrame{Op: "set_access", Channel: channel, UserID: userID, Allow: &allow})
	return err
}

func (b *Bridge) PresentView(ctx context.Context, channel ChannelRef, view View) (MessageRef, error) {
	ref, err := b.call(ctx, outFrame{Op: "view", Channel: channel, View: &view})
	return MessageRef{Channel: channel, ID: ref}, err
}
