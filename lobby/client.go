// Package lobby is the client side of the signaling protocol: it maintains
// the relay connection, tracks who is in the room, and drives one handshake
// session per remote peer until a direct channel is established.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sebastiansandqvist/p2p-game-lobby/model"
	"github.com/sebastiansandqvist/p2p-game-lobby/p2p"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var (
	ErrClientClosed = errors.New("client is closed")

	// ErrNotJoined means the relay has not assigned this client its
	// identity yet, so it cannot address other peers.
	ErrNotJoined = errors.New("not joined to a room yet")

	ErrPingTimeout = errors.New("timeout waiting for pong")

	// ErrPingInFlight means a ping to the same peer has not resolved yet.
	// Pongs carry no correlation id, so concurrent probes to one peer
	// cannot be told apart.
	ErrPingInFlight = errors.New("ping to this peer already in flight")
)

// Callbacks surface the protocol's decision points to the application. All
// of them are optional and are invoked from the client's dispatch goroutine
// in envelope arrival order, except OnConnected for a responder, which
// fires from the channel-open signal.
type Callbacks struct {
	// OnSelfJoined reports this client's own identity and a snapshot of who
	// else was already in the room.
	OnSelfJoined func(selfID string, peerIDs []string)

	OnPeerJoined func(peerID string)
	OnPeerLeft   func(peerID string)

	// OnOffer is the accept/reject decision point: the remote description
	// is already applied, nothing is answered automatically. Call
	// sess.SendAnswer to accept or sess.Reject to decline.
	OnOffer func(peerID string, sess *Session)

	// OnConnected fires once per session when the handshake completes.
	OnConnected func(peerID string, conn *p2p.Conn)

	OnOfferRejected func(peerID string)

	// OnMessage receives application payloads from any connected peer.
	OnMessage func(peerID string, payload []byte)

	// OnBroadcast receives room-wide frames of application-defined kinds.
	OnBroadcast func(kind string, raw []byte)
}

type Config struct {
	// URL is the room-scoped relay endpoint, eg. ws://localhost:3333/tictactoe/ab12cd
	URL       string
	NewHost   HostFactory
	Callbacks Callbacks
	Logger    *zerolog.Logger
}

// Client owns the relay connection. The connection handle is not shared
// with sessions; each session exclusively owns its own direct channel.
type Client struct {
	logger  zerolog.Logger
	conn    *websocket.Conn
	newHost HostFactory
	cb      Callbacks

	outgoing  chan model.Envelope
	done      chan struct{}
	closeOnce sync.Once

	mx       sync.Mutex
	selfID   string
	sessions map[string]*Session
	pings    map[string]chan struct{}
}

// Dial connects to the relay and starts the client's pumps. The room is
// selected by the URL path.
func Dial(cfg Config) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "lobby-client").Logger()
	}

	c := &Client{
		logger:   logger,
		conn:     conn,
		newHost:  cfg.NewHost,
		cb:       cfg.Callbacks,
		outgoing: make(chan model.Envelope, 16),
		done:     make(chan struct{}),
		sessions: make(map[string]*Session),
		pings:    make(map[string]chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

// SelfID returns the relay-assigned identity, or "" before self-joined
// arrives.
func (c *Client) SelfID() string {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.selfID
}

// Peers returns the ids of peers with a tracked handshake session.
func (c *Client) Peers() []string {
	c.mx.Lock()
	defer c.mx.Unlock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Session returns the handshake session for peerID, if one is tracked.
func (c *Client) Session(peerID string) (*Session, bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	sess, ok := c.sessions[peerID]
	return sess, ok
}

// SendOffer initiates a handshake toward a known peer, creating the session
// if needed, and blocks until the offer envelope is emitted.
func (c *Client) SendOffer(ctx context.Context, peerID string) (*Session, error) {
	if c.SelfID() == "" {
		return nil, ErrNotJoined
	}
	sess, err := c.ensureSession(peerID)
	if err != nil {
		return nil, err
	}
	if err = sess.SendOffer(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// Ping measures round-trip latency to a peer through the relay.
func (c *Client) Ping(peerID string, timeout time.Duration) (time.Duration, error) {
	if c.SelfID() == "" {
		return 0, ErrNotJoined
	}

	pong := make(chan struct{}, 1)
	c.mx.Lock()
	if _, ok := c.pings[peerID]; ok {
		c.mx.Unlock()
		return 0, ErrPingInFlight
	}
	c.pings[peerID] = pong
	c.mx.Unlock()
	defer func() {
		c.mx.Lock()
		delete(c.pings, peerID)
		c.mx.Unlock()
	}()

	start := time.Now()
	if err := c.send(model.NewPing(peerID, c.SelfID())); err != nil {
		return 0, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-pong:
		return time.Since(start), nil
	case <-timer.C:
		return 0, ErrPingTimeout
	case <-c.done:
		return 0, ErrClientClosed
	}
}

// Broadcast sends an application-defined frame to the whole room through
// the relay's generic fallback path. The frame must be a JSON object whose
// "kind" equals the given kind and lies outside the protocol vocabulary.
func (c *Client) Broadcast(kind string, frame []byte) error {
	return c.send(&model.Generic{Kind: kind, Raw: frame})
}

func (c *Client) send(env model.Envelope) error {
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

func (c *Client) readPump() {
	defer c.Close()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Msg("relay connection closed")
			} else {
				select {
				case <-c.done:
				default:
					c.logger.Error().Err(err).Msg("relay read failed")
				}
			}
			return
		}

		env, err := model.Decode(raw)
		if err != nil {
			c.logger.Error().Err(err).Msg("dropping malformed envelope")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.outgoing:
			b, err := model.Encode(env)
			if err != nil {
				c.logger.Error().Err(err).Msg("failed to marshal outgoing envelope")
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err = c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.logger.Error().Err(err).Msg("relay write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// dispatch applies one envelope. Envelopes for peers without a tracked
// session (other than offers, which create one) are dropped, not queued.
func (c *Client) dispatch(env model.Envelope) {
	switch e := env.(type) {
	case *model.SelfJoined:
		c.mx.Lock()
		c.selfID = e.ID
		c.mx.Unlock()
		if c.cb.OnSelfJoined != nil {
			c.cb.OnSelfJoined(e.ID, e.PeerIDs)
		}

	case *model.PeerJoined:
		if c.cb.OnPeerJoined != nil {
			c.cb.OnPeerJoined(e.ID)
		}

	case *model.PeerLeft:
		if sess, ok := c.Session(e.ID); ok {
			sess.Close()
		}
		if c.cb.OnPeerLeft != nil {
			c.cb.OnPeerLeft(e.ID)
		}

	case *model.Offer:
		sess, err := c.ensureSession(e.FromID)
		if err != nil {
			c.logger.Error().Err(err).Str("peerID", e.FromID).Msg("cannot create session for offer")
			return
		}
		if sess.handleOffer(e) && c.cb.OnOffer != nil {
			c.cb.OnOffer(e.FromID, sess)
		}

	case *model.Answer:
		sess, ok := c.Session(e.FromID)
		if !ok {
			c.logger.Debug().Str("peerID", e.FromID).Msg("dropping answer for untracked peer")
			return
		}
		if sess.handleAnswer(e) {
			sess.notifyConnected()
		}

	case *model.RejectOffer:
		if sess, ok := c.Session(e.FromID); ok {
			sess.Close()
		}
		if c.cb.OnOfferRejected != nil {
			c.cb.OnOfferRejected(e.FromID)
		}

	case *model.Ping:
		if err := c.send(model.NewPong(e.FromID, c.SelfID())); err != nil {
			c.logger.Debug().Err(err).Msg("failed to answer ping")
		}

	case *model.Pong:
		c.mx.Lock()
		pong, ok := c.pings[e.FromID]
		c.mx.Unlock()
		if !ok {
			c.logger.Debug().Str("peerID", e.FromID).Msg("discarding unmatched pong")
			return
		}
		select {
		case pong <- struct{}{}:
		default:
		}

	case *model.Generic:
		if c.cb.OnBroadcast != nil {
			c.cb.OnBroadcast(e.Kind, e.Raw)
		}
	}
}

func (c *Client) ensureSession(peerID string) (*Session, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if sess, ok := c.sessions[peerID]; ok {
		return sess, nil
	}
	if c.newHost == nil {
		return nil, errors.New("no host factory configured")
	}
	host, err := c.newHost()
	if err != nil {
		return nil, fmt.Errorf("failed to create host: %w", err)
	}
	sess := newSession(c, peerID, host)
	c.sessions[peerID] = sess
	return sess, nil
}

func (c *Client) dropSession(peerID string) {
	c.mx.Lock()
	delete(c.sessions, peerID)
	c.mx.Unlock()
}

// Close shuts the relay connection down and tears down every session.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mx.Lock()
		sessions := make([]*Session, 0, len(c.sessions))
		for _, sess := range c.sessions {
			sessions = append(sessions, sess)
		}
		c.mx.Unlock()
		for _, sess := range sessions {
			sess.Close()
		}

		_ = c.conn.Close()
	})
}
