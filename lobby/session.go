package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sebastiansandqvist/p2p-game-lobby/model"
	"github.com/sebastiansandqvist/p2p-game-lobby/p2p"
)

// State is a handshake session's position in the offer/answer exchange.
type State int

const (
	StateIdle State = iota
	StateOfferRequested
	StateDescriptionReady
	StateOfferSent
	StateAwaitingAnswer
	StateRemoteOfferApplied
	StateAnswerRequested
	StateAnswerSent
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferRequested:
		return "offer-requested"
	case StateDescriptionReady:
		return "description-ready"
	case StateOfferSent:
		return "offer-sent"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateRemoteOfferApplied:
		return "remote-offer-applied"
	case StateAnswerRequested:
		return "answer-requested"
	case StateAnswerSent:
		return "answer-sent"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	// ErrOfferInFlight means SendOffer was called while a previous handshake
	// on this session had not resolved yet.
	ErrOfferInFlight = errors.New("offer already in flight")

	// ErrNoPendingOffer means SendAnswer or Reject was called without a
	// remote offer applied.
	ErrNoPendingOffer = errors.New("no remote offer to answer")

	ErrSessionClosed = errors.New("session is closed")
)

// Session negotiates one direct channel with one remote peer. Envelopes are
// applied in arrival order and only the legal transition sequence is
// accepted; anything else is dropped. Connected is terminal: a new
// handshake with the same peer needs a fresh session.
type Session struct {
	logger zerolog.Logger
	client *Client
	peerID string
	host   Host
	asm    *assembler
	conn   *p2p.Conn

	mx    sync.Mutex
	state State

	channelReady  chan struct{}
	openOnce      sync.Once
	connectedOnce sync.Once
	closeOnce     sync.Once
}

func newSession(client *Client, peerID string, host Host) *Session {
	s := &Session{
		logger: client.logger.With().
			Str("component", "session").
			Str("peerID", peerID).
			Logger(),
		client:       client,
		peerID:       peerID,
		host:         host,
		asm:          newAssembler(host),
		state:        StateIdle,
		channelReady: make(chan struct{}),
	}
	s.conn = p2p.New(host.Channel(), func(payload []byte) {
		if client.cb.OnMessage != nil {
			client.cb.OnMessage(peerID, payload)
		}
	}, &s.logger)
	host.Channel().OnOpen(s.channelOpened)
	return s
}

func (s *Session) PeerID() string { return s.peerID }

func (s *Session) State() State {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state
}

// Conn returns the session's delivery layer. It only becomes writable once
// ChannelReady is closed; a logically connected session does not imply a
// writable channel.
func (s *Session) Conn() *p2p.Conn { return s.conn }

// ChannelReady is closed when the direct channel reports itself open.
func (s *Session) ChannelReady() <-chan struct{} { return s.channelReady }

// SendOffer assembles the local offer and emits exactly one offer envelope
// to the peer. Valid only from the idle state: a second call before the
// handshake resolves returns ErrOfferInFlight instead of racing the
// assembler.
func (s *Session) SendOffer(ctx context.Context) error {
	s.mx.Lock()
	switch s.state {
	case StateIdle:
	case StateClosed:
		s.mx.Unlock()
		return ErrSessionClosed
	default:
		st := s.state
		s.mx.Unlock()
		return fmt.Errorf("%w: session is %s", ErrOfferInFlight, st)
	}
	s.state = StateOfferRequested
	s.mx.Unlock()

	desc, err := s.asm.assemble(ctx, DescriptionOffer)
	if err != nil {
		s.revert(StateOfferRequested, StateIdle)
		return fmt.Errorf("failed to assemble offer: %w", err)
	}

	if !s.advance(StateOfferRequested, StateDescriptionReady) {
		return ErrSessionClosed
	}
	if err = s.client.send(model.NewOffer(s.peerID, s.client.SelfID(), desc)); err != nil {
		s.revert(StateDescriptionReady, StateIdle)
		return err
	}
	s.advance(StateDescriptionReady, StateOfferSent)
	s.advance(StateOfferSent, StateAwaitingAnswer)
	return nil
}

// SendAnswer assembles the local answer for a previously applied remote
// offer and emits exactly one answer envelope.
func (s *Session) SendAnswer(ctx context.Context) error {
	s.mx.Lock()
	switch s.state {
	case StateRemoteOfferApplied:
	case StateClosed:
		s.mx.Unlock()
		return ErrSessionClosed
	default:
		st := s.state
		s.mx.Unlock()
		return fmt.Errorf("%w: session is %s", ErrNoPendingOffer, st)
	}
	s.state = StateAnswerRequested
	s.mx.Unlock()

	desc, err := s.asm.assemble(ctx, DescriptionAnswer)
	if err != nil {
		s.revert(StateAnswerRequested, StateRemoteOfferApplied)
		return fmt.Errorf("failed to assemble answer: %w", err)
	}

	if !s.advance(StateAnswerRequested, StateDescriptionReady) {
		return ErrSessionClosed
	}
	if err = s.client.send(model.NewAnswer(s.peerID, s.client.SelfID(), desc)); err != nil {
		s.revert(StateDescriptionReady, StateRemoteOfferApplied)
		return err
	}
	s.advance(StateDescriptionReady, StateAnswerSent)
	return nil
}

// Reject declines a pending remote offer and tears the session down.
func (s *Session) Reject() error {
	s.mx.Lock()
	if s.state != StateRemoteOfferApplied {
		st := s.state
		s.mx.Unlock()
		return fmt.Errorf("%w: session is %s", ErrNoPendingOffer, st)
	}
	s.mx.Unlock()

	_ = s.client.send(model.NewRejectOffer(s.peerID, s.client.SelfID()))
	s.Close()
	return nil
}

// handleOffer applies a remote offer. The description must be installed
// before any answer can be generated, so it is applied here, ahead of the
// application's accept/reject decision. Reports whether the offer was
// accepted into the state machine.
func (s *Session) handleOffer(env *model.Offer) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.state != StateIdle {
		s.logger.Debug().Str("state", s.state.String()).Msg("dropping offer, state does not accept it")
		return false
	}
	if err := s.host.SetRemoteDescription(env.Description); err != nil {
		s.logger.Error().Err(err).Msg("failed to apply remote offer")
		return false
	}
	s.state = StateRemoteOfferApplied
	return true
}

// handleAnswer applies a remote answer and completes the initiator side of
// the handshake. Reports whether the session transitioned to connected.
func (s *Session) handleAnswer(env *model.Answer) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.state != StateAwaitingAnswer {
		s.logger.Debug().Str("state", s.state.String()).Msg("dropping answer, state does not accept it")
		return false
	}
	if err := s.host.SetRemoteDescription(env.Description); err != nil {
		s.logger.Error().Err(err).Msg("failed to apply remote answer")
		return false
	}
	s.state = StateConnected
	return true
}

// channelOpened fires on the host's channel-open signal. This completion is
// asynchronous and distinct from the logical state transition; for the
// responder it is also what completes the handshake.
func (s *Session) channelOpened() {
	s.openOnce.Do(func() {
		close(s.channelReady)
	})

	s.mx.Lock()
	completed := s.state == StateAnswerSent
	if completed {
		s.state = StateConnected
	}
	s.mx.Unlock()
	if completed {
		s.notifyConnected()
	}
}

// notifyConnected surfaces the connected callback exactly once per session.
func (s *Session) notifyConnected() {
	s.connectedOnce.Do(func() {
		if s.client.cb.OnConnected != nil {
			s.client.cb.OnConnected(s.peerID, s.conn)
		}
	})
}

func (s *Session) advance(from, to State) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func (s *Session) revert(from, to State) {
	s.mx.Lock()
	if s.state == from {
		s.state = to
	}
	s.mx.Unlock()
}

// Close tears the session down and releases the host. Safe to call more
// than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mx.Lock()
		s.state = StateClosed
		s.mx.Unlock()
		if err := s.host.Close(); err != nil {
			s.logger.Error().Err(err).Msg("failed to close host")
		}
		s.client.dropSession(s.peerID)
	})
}
