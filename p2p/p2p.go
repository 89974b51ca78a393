// Package p2p frames application messages over an established direct
// channel and layers optional receipt tracking on top: a receipt
// acknowledges transport delivery, not application processing.
package p2p

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	kindMessage                  = "message"
	kindMessageRequestingReceipt = "message-requesting-receipt"
	kindMessageReceipt           = "message-receipt"
)

// DefaultReceiptTimeout bounds SendWithReceipt when the caller passes no
// explicit timeout.
const DefaultReceiptTimeout = time.Second

var (
	// ErrReceiptTimeout means no matching receipt arrived in time. The
	// underlying write is not cancelled; a late receipt is discarded.
	ErrReceiptTimeout = errors.New("timeout waiting for receipt")
)

// Channel is the minimal direct-channel surface the delivery layer needs.
// webrtcpeer adapts a pion data channel to it.
type Channel interface {
	Send([]byte) error
	OnMessage(func([]byte))
	Close() error
}

type frame struct {
	Kind    string          `json:"kind"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  int64           `json:"sentAt,omitempty"`
}

// Conn wraps one direct channel. It owns the channel's message callback:
// receipt requests are acknowledged before the payload reaches the
// application handler, and receipts are matched against pending sends.
type Conn struct {
	logger    zerolog.Logger
	ch        Channel
	onMessage func(payload []byte)

	mx      sync.Mutex
	pending map[string]chan struct{}
}

func New(ch Channel, onMessage func(payload []byte), logger *zerolog.Logger) *Conn {
	c := &Conn{
		logger:    logger.With().Str("component", "p2p").Logger(),
		ch:        ch,
		onMessage: onMessage,
		pending:   make(map[string]chan struct{}),
	}
	ch.OnMessage(c.dispatch)
	return c
}

// Send writes payload fire-and-forget. No delivery guarantee beyond
// whatever the underlying channel offers.
func (c *Conn) Send(payload []byte) error {
	b, err := json.Marshal(frame{Kind: kindMessage, Payload: payload})
	if err != nil {
		return err
	}
	return c.ch.Send(b)
}

// SendWithReceipt writes payload and waits for the matching receipt,
// returning the measured round trip time. Exactly one outcome per call:
// the round trip duration, or an error. A timeout cancels only this call's
// receipt tracking.
func (c *Conn) SendWithReceipt(payload []byte, timeout time.Duration) (time.Duration, error) {
	if timeout <= 0 {
		timeout = DefaultReceiptTimeout
	}

	id := uuid.NewString()
	ack := make(chan struct{}, 1)
	c.mx.Lock()
	c.pending[id] = ack
	c.mx.Unlock()

	start := time.Now()
	b, err := json.Marshal(frame{
		Kind:    kindMessageRequestingReceipt,
		ID:      id,
		Payload: payload,
		SentAt:  start.UnixMilli(),
	})
	if err != nil {
		c.forget(id)
		return 0, err
	}
	if err = c.ch.Send(b); err != nil {
		c.forget(id)
		return 0, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ack:
		return time.Since(start), nil
	case <-timer.C:
		c.forget(id)
		return 0, ErrReceiptTimeout
	}
}

func (c *Conn) forget(id string) {
	c.mx.Lock()
	delete(c.pending, id)
	c.mx.Unlock()
}

func (c *Conn) dispatch(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Error().Err(err).Msg("dropping malformed channel message")
		return
	}

	switch f.Kind {
	case kindMessage:
		if c.onMessage != nil {
			c.onMessage(f.Payload)
		}
	case kindMessageRequestingReceipt:
		// Acknowledge delivery before the application sees the payload.
		c.sendReceipt(f.ID)
		if c.onMessage != nil {
			c.onMessage(f.Payload)
		}
	case kindMessageReceipt:
		c.mx.Lock()
		ack, ok := c.pending[f.ID]
		if ok {
			delete(c.pending, f.ID)
		}
		c.mx.Unlock()
		if !ok {
			c.logger.Debug().Str("id", f.ID).Msg("discarding unmatched receipt")
			return
		}
		ack <- struct{}{}
	default:
		c.logger.Debug().Str("kind", f.Kind).Msg("dropping channel message of unknown kind")
	}
}

func (c *Conn) sendReceipt(id string) {
	b, err := json.Marshal(frame{Kind: kindMessageReceipt, ID: id})
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal receipt")
		return
	}
	if err = c.ch.Send(b); err != nil {
		c.logger.Error().Err(err).Str("id", id).Msg("failed to send receipt")
	}
}
