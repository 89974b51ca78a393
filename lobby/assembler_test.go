package lobby

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sebastiansandqvist/p2p-game-lobby/model"
)

func TestAssembleWaitsForGatheringComplete(t *testing.T) {
	host := newFakeHost()
	asm := newAssembler(host)

	type result struct {
		desc model.Description
		err  error
	}
	done := make(chan result, 1)
	go func() {
		desc, err := asm.assemble(context.Background(), DescriptionOffer)
		done <- result{desc, err}
	}()

	select {
	case r := <-done:
		t.Fatalf("assembly resolved before gathering finished: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	close(host.gather)

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("assemble: %v", r.err)
		}
		if r.desc.Type != model.DescriptionTypeOffer || r.desc.SDP != "v=0 local offer" {
			t.Errorf("description = %+v", r.desc)
		}
	case <-time.After(time.Second):
		t.Fatal("assembly never resolved")
	}
}

func TestAssembleCachesPerKind(t *testing.T) {
	host := newReadyFakeHost()
	asm := newAssembler(host)

	first, err := asm.assemble(context.Background(), DescriptionOffer)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	second, err := asm.assemble(context.Background(), DescriptionOffer)
	if err != nil {
		t.Fatalf("assemble again: %v", err)
	}

	if host.offerCalls != 1 {
		t.Errorf("host produced %d offers, want 1", host.offerCalls)
	}
	if first != second {
		t.Errorf("cached description differs: %+v vs %+v", first, second)
	}
}

func TestAssembleAnswerUsesAnswerCapability(t *testing.T) {
	host := newReadyFakeHost()
	asm := newAssembler(host)

	desc, err := asm.assemble(context.Background(), DescriptionAnswer)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if desc.Type != model.DescriptionTypeAnswer {
		t.Errorf("type = %q, want answer", desc.Type)
	}
	if host.answerCalls != 1 || host.offerCalls != 0 {
		t.Errorf("calls = %d offers, %d answers", host.offerCalls, host.answerCalls)
	}
}

func TestAssembleContextCancellation(t *testing.T) {
	host := newFakeHost() // gathering never completes
	asm := newAssembler(host)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := asm.assemble(ctx, DescriptionOffer); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestAssembleCreateFailure(t *testing.T) {
	host := newReadyFakeHost()
	host.createErr = errors.New("platform refused")
	asm := newAssembler(host)

	if _, err := asm.assemble(context.Background(), DescriptionOffer); !errors.Is(err, host.createErr) {
		t.Errorf("err = %v, want the platform error", err)
	}
	if len(asm.cache) != 0 {
		t.Error("failed assembly was cached")
	}
}

func TestAssembleMissingLocalDescription(t *testing.T) {
	host := newReadyFakeHost()
	host.hasLocal = false
	asm := newAssembler(host)

	if _, err := asm.assemble(context.Background(), DescriptionOffer); !errors.Is(err, errNoLocalDescription) {
		t.Errorf("err = %v, want errNoLocalDescription", err)
	}
}
