package service

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sebastiansandqvist/p2p-game-lobby/model"
	"github.com/sebastiansandqvist/p2p-game-lobby/registry"
	"github.com/sebastiansandqvist/p2p-game-lobby/relay"
)

var (
	// ErrIdentityMismatch means a unicast envelope claimed a fromId that
	// does not match the identity of the connection that sent it.
	ErrIdentityMismatch = errors.New("fromId does not match sending connection")

	// ErrServerOnlyKind means a client sent a roster envelope that only the
	// server may emit.
	ErrServerOnlyKind = errors.New("kind is emitted by the server only")
)

type (
	// Service wires the connection registry and the per-identity relay into
	// the signaling contract: join/leave roster traffic plus verbatim
	// forwarding of client envelopes.
	Service struct {
		registry *registry.Registry
		relay    *relay.Relay
		logger   zerolog.Logger

		// mx serializes roster changes so a connection's self-joined reply
		// is queued before any later member's broadcasts can reach its wire.
		mx sync.Mutex
	}

	Config struct {
		Registry *registry.Registry
		Relay    *relay.Relay
		Logger   *zerolog.Logger
	}
)

func New(cfg Config) *Service {
	return &Service{
		registry: cfg.Registry,
		relay:    cfg.Relay,
		logger:   cfg.Logger.With().Str("component", "signaling").Logger(),
	}
}

// Join attaches the connection's wire, replies to the new connection only
// with its identity and the roster snapshot taken before the join, then
// broadcasts the join to every other current room member.
func (svc *Service) Join(roomID, clientID string, wire model.Wire) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	svc.relay.Attach(clientID, wire)

	peers := svc.registry.Join(roomID, clientID)
	svc.relay.Unicast(clientID, model.NewSelfJoined(clientID, peers))
	svc.relay.Broadcast(peers, "", model.NewPeerJoined(clientID))

	svc.logger.Debug().
		Str("roomID", roomID).
		Str("clientID", clientID).
		Msg("signaling session connected")
}

// Leave removes the identity from its room, tears down its delivery channel
// and broadcasts the departure to the remaining members.
func (svc *Service) Leave(roomID, clientID string) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	svc.registry.Leave(roomID, clientID)
	svc.relay.Detach(clientID)
	svc.relay.Broadcast(svc.registry.Members(roomID), "", model.NewPeerLeft(clientID))

	svc.logger.Debug().
		Str("roomID", roomID).
		Str("clientID", clientID).
		Msg("signaling session ended")
}

// Route forwards one client envelope. Unicast kinds go verbatim to toId,
// with fromId checked against the sending connection's identity; anything
// the relay does not understand is broadcast to the whole room, sender
// included. Unroutable unicasts are dropped silently.
func (svc *Service) Route(roomID, fromID string, env model.Envelope) error {
	switch e := env.(type) {
	case model.Addressed:
		to, from := e.Route()
		if from != fromID {
			svc.logger.Warn().
				Str("roomID", roomID).
				Str("clientID", fromID).
				Str("claimedFromID", from).
				Str("kind", env.EnvelopeKind()).
				Msg("dropping envelope with spoofed fromId")
			return ErrIdentityMismatch
		}
		svc.relay.Unicast(to, env)
		return nil
	case *model.Generic:
		svc.relay.Broadcast(svc.registry.Members(roomID), "", env)
		return nil
	case *model.SelfJoined, *model.PeerJoined, *model.PeerLeft:
		svc.logger.Warn().
			Str("roomID", roomID).
			Str("clientID", fromID).
			Str("kind", env.EnvelopeKind()).
			Msg("dropping roster envelope sent by client")
		return ErrServerOnlyKind
	default:
		// Decode never yields anything outside the cases above.
		return nil
	}
}
