// Package channel maintains the push connection that delivers job events
// for a signed-in user and translates them into ledger mutations. One
// channel instance owns at most one live transport at a time; reconnection
// after an unintentional close is driven by a single cancellable timer.
package channel

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/teamdock/portal/internal/ledger"
	"github.com/teamdock/portal/internal/model"
)

const defaultReconnectDelay = 5 * time.Second

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// ErrNoIdentity is returned when Connect is called before a user is known.
var ErrNoIdentity = errors.New("channel: user identity required before connect")

// Config configures a Channel.
type Config struct {
	// APIBaseURL is the REST API origin. The websocket URL is derived from
	// it (scheme swapped, host kept) so channel and REST always target the
	// same backend instance.
	APIBaseURL string

	// UserID is sent as the one-time handshake frame after connect.
	UserID string

	// Token, when set, is attached to the upgrade request as a query
	// parameter for endpoints that authenticate the handshake.
	Token string

	// ReconnectDelay overrides the fixed delay between reconnect attempts.
	ReconnectDelay time.Duration
}

// Channel is a client of the portal's per-user event stream.
type Channel struct {
	cfg    Config
	ledger *ledger.Ledger

	mu        sync.Mutex
	conn      *websocket.Conn
	state     State
	reconnect *time.Timer
	closing   bool
	lastErr   error
	changeFns map[int]func()
	nextSub   int

	connected atomic.Bool
}

// New creates a channel writing into the given ledger.
func New(cfg Config, ld *ledger.Ledger) *Channel {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	return &Channel{
		cfg:       cfg,
		ledger:    ld,
		changeFns: make(map[int]func()),
	}
}

// Connect dials the event stream and sends the handshake frame. It is
// idempotent: invoking it while a transport is already connecting or
// connected does not create a second one. A failed dial arms the reconnect
// timer before returning the error.
func (c *Channel) Connect() error {
	if c.cfg.UserID == "" {
		return ErrNoIdentity
	}
	c.mu.Lock()
	c.closing = false
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()
	return c.dial()
}

func (c *Channel) dial() error {
	target, err := wsURL(c.cfg.APIBaseURL, c.cfg.Token)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.lastErr = err
		c.mu.Unlock()
		return err
	}

	conn, resp, err := websocket.DefaultDialer.Dial(target, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.lastErr = err
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.closing {
		// Disconnect raced the dial; drop the fresh transport.
		c.state = StateDisconnected
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()
	c.connected.Store(true)

	if err := conn.WriteJSON(model.SubscribeFrame{UserID: c.cfg.UserID}); err != nil {
		// The close handler owns recovery; just record the error.
		log.Printf("channel: handshake write failed: %v", err)
	}

	go c.readLoop(conn)
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Channel) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A stale read loop from a transport already replaced.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	c.connected.Store(false)
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.lastErr = err
	c.scheduleReconnectLocked()
	c.mu.Unlock()
	log.Printf("channel: connection lost, reconnecting in %s: %v", c.cfg.ReconnectDelay, err)
}

// scheduleReconnectLocked arms the single reconnect timer. At most one
// attempt is ever pending, and at least the fixed delay elapses between
// attempts.
func (c *Channel) scheduleReconnectLocked() {
	if c.reconnect != nil || c.closing {
		return
	}
	c.reconnect = time.AfterFunc(c.cfg.ReconnectDelay, c.retry)
}

func (c *Channel) retry() {
	c.mu.Lock()
	c.reconnect = nil
	if c.closing || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.dial()
}

// Disconnect cancels any pending reconnect attempt and closes the transport
// deliberately, so the close handler does not re-arm itself.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.closing = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn := c.conn
	if conn == nil {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"))
		conn.Close()
	}
	c.connected.Store(false)
}

// IsConnected reports whether the transport is currently open.
func (c *Channel) IsConnected() bool {
	return c.connected.Load()
}

// LastError returns the most recent transport error, if any. It is kept
// across a successful reconnect; IsConnected reports the current state.
func (c *Channel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// OnChange registers fn to run for every inbound event frame, whatever its
// shape. Consumers use it to invalidate list caches. The returned function
// unregisters it.
func (c *Channel) OnChange(fn func()) (unregister func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.changeFns[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.changeFns, id)
		c.mu.Unlock()
	}
}

func (c *Channel) handleFrame(data []byte) {
	var env model.FrameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("channel: dropping malformed frame: %v", err)
		return
	}

	if env.Type == model.FrameTypeSubscribed {
		log.Printf("channel: subscribed to %s", env.Channel)
		return
	}

	c.mu.Lock()
	fns := make([]func(), 0, len(c.changeFns))
	for _, fn := range c.changeFns {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}

	if env.TaskID == "" {
		return
	}

	switch env.Type {
	case model.FrameTypeTaskProgress:
		c.ledger.UpdateProgress(env.TaskID, ledger.Progress{
			Step:       env.Step,
			TotalSteps: env.TotalSteps,
			StepName:   env.StepName,
			Percentage: env.Percentage,
			Meta:       metaFromFrame(&env),
		})
	case model.FrameTypeTaskCompleted:
		c.ledger.Complete(env.TaskID, env.Result)
	case model.FrameTypeTaskFailed:
		c.ledger.Fail(env.TaskID, env.Error)
	default:
		log.Printf("channel: ignoring frame type %q", env.Type)
	}
}

func metaFromFrame(env *model.FrameEnvelope) *ledger.TaskMeta {
	meta := &ledger.TaskMeta{Action: env.Action}
	switch {
	case env.TeamSlug != "":
		meta.EntityKind = model.EntityTeam
		meta.EntitySlug = env.TeamSlug
	case env.WorkspaceSlug != "":
		meta.EntityKind = model.EntityWorkspace
		meta.EntitySlug = env.WorkspaceSlug
		meta.SubEntitySlug = env.SandboxSlug
	default:
		return nil
	}
	return meta
}

// wsURL derives the websocket endpoint from the REST API origin: swap the
// scheme, keep the host.
func wsURL(apiBase, token string) (string, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
