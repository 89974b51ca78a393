package relay

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/sebastiansandqvist/p2p-game-lobby/model"
)

// Relay delivers envelopes to individual connections. Every connection is
// addressable by its client identity, independent of room membership, so
// unicast envelopes reach exactly the one connection matching toId.
type Relay struct {
	logger zerolog.Logger
	mx     sync.RWMutex
	wires  map[string]model.Wire
}

func New(logger *zerolog.Logger) *Relay {
	return &Relay{
		logger: logger.With().Str("component", "relay").Logger(),
		wires:  make(map[string]model.Wire),
	}
}

// Attach registers a delivery channel under a client identity.
func (rl *Relay) Attach(clientID string, wire model.Wire) {
	rl.mx.Lock()
	rl.wires[clientID] = wire
	rl.mx.Unlock()
	rl.logger.Debug().Str("clientID", clientID).Msg("wire attached")
}

// Detach makes future unicasts to clientID miss.
func (rl *Relay) Detach(clientID string) {
	rl.mx.Lock()
	delete(rl.wires, clientID)
	rl.mx.Unlock()
	rl.logger.Debug().Str("clientID", clientID).Msg("wire detached")
}

// Unicast delivers env to the connection registered under toID. Delivery is
// at-most-once and best-effort: an absent identity or a full outbound queue
// drops the envelope and no error reaches the sender.
func (rl *Relay) Unicast(toID string, env model.Envelope) bool {
	rl.mx.RLock()
	wire, ok := rl.wires[toID]
	rl.mx.RUnlock()
	if !ok {
		rl.logger.Debug().
			Str("toID", toID).
			Str("kind", env.EnvelopeKind()).
			Msg("cannot forward, dst not found")
		return false
	}
	select {
	case wire.TX <- env:
		return true
	default:
		rl.logger.Warn().
			Str("toID", toID).
			Str("kind", env.EnvelopeKind()).
			Msg("outbound queue full, dropping")
		return false
	}
}

// Broadcast fans env out to every id in targets except excludeID and
// reports how many deliveries were queued.
func (rl *Relay) Broadcast(targets []string, excludeID string, env model.Envelope) int {
	var sent int
	for _, id := range targets {
		if id == excludeID {
			continue
		}
		if rl.Unicast(id, env) {
			sent++
		}
	}
	if sent == 0 {
		rl.logger.Debug().
			Str("kind", env.EnvelopeKind()).
			Msg("broadcast did not reach anyone")
	}
	return sent
}
