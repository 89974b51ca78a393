package lobby

import (
	"context"
	"errors"

	"github.com/sebastiansandqvist/p2p-game-lobby/model"
)

// DescriptionKind selects which side of the exchange the assembler produces.
type DescriptionKind int

const (
	DescriptionOffer DescriptionKind = iota
	DescriptionAnswer
)

var errNoLocalDescription = errors.New("no local description after gathering")

// assembler drives the host's description capability to completion. Rather
// than trickling candidates to the peer as they are discovered, it blocks
// until the gathering-complete sentinel and returns the full description,
// so each handshake step is exactly one envelope. The result is cached per
// kind; a second call returns the cache without re-gathering.
type assembler struct {
	host  Host
	cache map[DescriptionKind]model.Description
}

func newAssembler(host Host) *assembler {
	return &assembler{
		host:  host,
		cache: make(map[DescriptionKind]model.Description),
	}
}

func (a *assembler) assemble(ctx context.Context, kind DescriptionKind) (model.Description, error) {
	if desc, ok := a.cache[kind]; ok {
		return desc, nil
	}

	var err error
	switch kind {
	case DescriptionOffer:
		err = a.host.CreateOffer(ctx)
	case DescriptionAnswer:
		err = a.host.CreateAnswer(ctx)
	}
	if err != nil {
		return model.Description{}, err
	}

	select {
	case <-a.host.GatheringComplete():
	case <-ctx.Done():
		return model.Description{}, ctx.Err()
	}

	desc, ok := a.host.LocalDescription()
	if !ok {
		return model.Description{}, errNoLocalDescription
	}
	a.cache[kind] = desc
	return desc, nil
}
