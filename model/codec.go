package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMissingKind    = errors.New("envelope has no kind")
	ErrMissingAddress = errors.New("unicast envelope must carry toId and fromId")
)

// Decode parses one wire frame into its envelope variant. Kinds outside the
// protocol vocabulary decode to Generic with the frame kept verbatim, so the
// relay can fall back to a room broadcast without understanding them.
func Decode(raw []byte) (Envelope, error) {
	var tag struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if tag.Kind == "" {
		return nil, ErrMissingKind
	}

	var (
		env Envelope
		err error
	)
	switch tag.Kind {
	case KindSelfJoined:
		env, err = decodeAs[SelfJoined](raw)
	case KindPeerJoined:
		env, err = decodeAs[PeerJoined](raw)
	case KindPeerLeft:
		env, err = decodeAs[PeerLeft](raw)
	case KindOffer:
		env, err = decodeAs[Offer](raw)
	case KindAnswer:
		env, err = decodeAs[Answer](raw)
	case KindRejectOffer:
		env, err = decodeAs[RejectOffer](raw)
	case KindPing:
		env, err = decodeAs[Ping](raw)
	case KindPong:
		env, err = decodeAs[Pong](raw)
	default:
		return &Generic{Kind: tag.Kind, Raw: raw}, nil
	}
	if err != nil {
		return nil, err
	}
	if a, ok := env.(Addressed); ok {
		to, from := a.Route()
		if to == "" || from == "" {
			return nil, ErrMissingAddress
		}
	}
	return env, nil
}

func decodeAs[T any](raw []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	return &v, nil
}

// Encode renders an envelope as one wire frame. Generic envelopes are
// emitted verbatim.
func Encode(env Envelope) ([]byte, error) {
	if g, ok := env.(*Generic); ok {
		return g.Raw, nil
	}
	return json.Marshal(env)
}
