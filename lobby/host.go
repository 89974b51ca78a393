package lobby

import (
	"context"

	"github.com/sebastiansandqvist/p2p-game-lobby/model"
	"github.com/sebastiansandqvist/p2p-game-lobby/p2p"
)

// Channel is the direct-channel handle a Host exposes. The open callback
// fires when the channel becomes writable, which is a separate completion
// from the handshake reaching its connected state.
type Channel interface {
	p2p.Channel
	OnOpen(func())
}

// Host is the platform capability that produces and applies session
// descriptions and owns one direct channel. One Host backs exactly one
// handshake session; webrtcpeer provides the production implementation.
type Host interface {
	// CreateOffer generates an offer and installs it as the local
	// description, which starts network path discovery.
	CreateOffer(ctx context.Context) error

	// CreateAnswer generates an answer and installs it as the local
	// description. The remote offer must already be applied.
	CreateAnswer(ctx context.Context) error

	// SetRemoteDescription applies the peer's description.
	SetRemoteDescription(desc model.Description) error

	// GatheringComplete is closed once path discovery signals that no more
	// candidates will be found.
	GatheringComplete() <-chan struct{}

	// LocalDescription returns the complete local description, including
	// all discovered candidates, once gathering is done.
	LocalDescription() (model.Description, bool)

	Channel() Channel
	Close() error
}

// HostFactory builds a fresh Host for each new handshake session.
type HostFactory func() (Host, error)
