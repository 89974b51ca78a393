package lobby

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sebastiansandqvist/p2p-game-lobby/model"
	"github.com/sebastiansandqvist/p2p-game-lobby/p2p"
	"github.com/sebastiansandqvist/p2p-game-lobby/registry"
	"github.com/sebastiansandqvist/p2p-game-lobby/relay"
	"github.com/sebastiansandqvist/p2p-game-lobby/server/websocket"
	"github.com/sebastiansandqvist/p2p-game-lobby/service"
)

func startRelay(t *testing.T) string {
	t.Helper()
	logger := zerolog.Nop()
	svc := service.New(service.Config{
		Registry: registry.New(&logger),
		Relay:    relay.New(&logger),
		Logger:   &logger,
	})
	srv := websocket.NewServer(websocket.Config{
		Logger:           &logger,
		SignalingService: svc,
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

// hostTracker hands out ready fake hosts and remembers them so tests can
// fire channel-open signals.
type hostTracker struct {
	mx    sync.Mutex
	hosts []*fakeHost
}

func (ht *hostTracker) factory() (Host, error) {
	h := newReadyFakeHost()
	ht.mx.Lock()
	ht.hosts = append(ht.hosts, h)
	ht.mx.Unlock()
	return h, nil
}

func (ht *hostTracker) last(t *testing.T) *fakeHost {
	t.Helper()
	ht.mx.Lock()
	defer ht.mx.Unlock()
	if len(ht.hosts) == 0 {
		t.Fatal("no host was created")
	}
	return ht.hosts[len(ht.hosts)-1]
}

func waitString(t *testing.T, ch <-chan string, what string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return ""
	}
}

func TestHandshakeThroughRelay(t *testing.T) {
	url := startRelay(t) + "/game/room-1"

	var (
		trackerA, trackerB hostTracker

		aJoined       = make(chan string, 1)
		aSawPeer      = make(chan string, 1)
		aConnected    = make(chan string, 1)
		bConnected    = make(chan string, 1)
		offerAccepted = make(chan string, 1)
	)

	clientA, err := Dial(Config{
		URL:     url,
		NewHost: trackerA.factory,
		Callbacks: Callbacks{
			OnSelfJoined: func(selfID string, _ []string) { aJoined <- selfID },
			OnPeerJoined: func(peerID string) { aSawPeer <- peerID },
			OnConnected:  func(peerID string, _ *p2p.Conn) { aConnected <- peerID },
		},
	})
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer clientA.Close()
	waitString(t, aJoined, "A's self-joined")

	clientB, err := Dial(Config{
		URL:     url,
		NewHost: trackerB.factory,
		Callbacks: Callbacks{
			OnOffer: func(peerID string, sess *Session) {
				if err := sess.SendAnswer(context.Background()); err != nil {
					t.Errorf("send answer: %v", err)
					return
				}
				offerAccepted <- peerID
			},
			OnConnected: func(peerID string, _ *p2p.Conn) { bConnected <- peerID },
		},
	})
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	defer clientB.Close()

	peerB := waitString(t, aSawPeer, "A to see B join")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sessA, err := clientA.SendOffer(ctx, peerB)
	if err != nil {
		t.Fatalf("send offer: %v", err)
	}

	waitString(t, offerAccepted, "B to accept the offer")
	waitString(t, aConnected, "A's connected callback")
	if sessA.State() != StateConnected {
		t.Errorf("initiator state = %s, want connected", sessA.State())
	}

	// The responder completes only once its channel reports open.
	select {
	case <-bConnected:
		t.Fatal("responder connected before channel open")
	default:
	}
	trackerB.last(t).ch.open()
	waitString(t, bConnected, "B's connected callback")
}

func TestRejectedOfferThroughRelay(t *testing.T) {
	url := startRelay(t) + "/game/room-2"

	var (
		trackerA, trackerB hostTracker
		aJoined            = make(chan string, 1)
		aSawPeer           = make(chan string, 1)
		rejected           = make(chan string, 1)
	)

	clientA, err := Dial(Config{
		URL:     url,
		NewHost: trackerA.factory,
		Callbacks: Callbacks{
			OnSelfJoined:    func(selfID string, _ []string) { aJoined <- selfID },
			OnPeerJoined:    func(peerID string) { aSawPeer <- peerID },
			OnOfferRejected: func(peerID string) { rejected <- peerID },
		},
	})
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer clientA.Close()
	waitString(t, aJoined, "A's self-joined")

	clientB, err := Dial(Config{
		URL:     url,
		NewHost: trackerB.factory,
		Callbacks: Callbacks{
			OnOffer: func(_ string, sess *Session) {
				if err := sess.Reject(); err != nil {
					t.Errorf("reject: %v", err)
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	defer clientB.Close()

	peerB := waitString(t, aSawPeer, "A to see B join")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err = clientA.SendOffer(ctx, peerB); err != nil {
		t.Fatalf("send offer: %v", err)
	}

	if got := waitString(t, rejected, "A's rejected callback"); got != peerB {
		t.Errorf("rejected by %q, want %q", got, peerB)
	}
	if _, ok := clientA.Session(peerB); ok {
		t.Error("initiator still tracks the rejected session")
	}
}

func TestPingThroughRelay(t *testing.T) {
	url := startRelay(t) + "/game/room-3"

	aJoined := make(chan string, 1)
	aSawPeer := make(chan string, 1)

	clientA, err := Dial(Config{
		URL: url,
		Callbacks: Callbacks{
			OnSelfJoined: func(selfID string, _ []string) { aJoined <- selfID },
			OnPeerJoined: func(peerID string) { aSawPeer <- peerID },
		},
	})
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer clientA.Close()
	waitString(t, aJoined, "A's self-joined")

	clientB, err := Dial(Config{URL: url})
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	defer clientB.Close()

	peerB := waitString(t, aSawPeer, "A to see B join")

	rtt, err := clientA.Ping(peerB, 2*time.Second)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if rtt <= 0 {
		t.Errorf("rtt = %v, want > 0", rtt)
	}
}

func TestBroadcastThroughRelay(t *testing.T) {
	url := startRelay(t) + "/game/room-4"

	aJoined := make(chan string, 1)
	aSawPeer := make(chan string, 1)
	received := make(chan string, 2)

	onBroadcast := func(kind string, raw []byte) {
		if kind == "chat" {
			received <- string(raw)
		}
	}

	clientA, err := Dial(Config{
		URL: url,
		Callbacks: Callbacks{
			OnSelfJoined: func(selfID string, _ []string) { aJoined <- selfID },
			OnPeerJoined: func(peerID string) { aSawPeer <- peerID },
			OnBroadcast:  onBroadcast,
		},
	})
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer clientA.Close()
	waitString(t, aJoined, "A's self-joined")

	clientB, err := Dial(Config{
		URL:       url,
		Callbacks: Callbacks{OnBroadcast: onBroadcast},
	})
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	defer clientB.Close()
	waitString(t, aSawPeer, "A to see B join")

	frame := `{"kind":"chat","text":"hello room"}`
	if err = clientA.Broadcast("chat", []byte(frame)); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	// Room-wide frames reach every member, the sender included.
	for i := 0; i < 2; i++ {
		if got := waitString(t, received, "broadcast frame"); got != frame {
			t.Errorf("frame = %s, want it verbatim", got)
		}
	}
}

func TestPeerLeftOnDisconnect(t *testing.T) {
	url := startRelay(t) + "/game/room-5"

	aJoined := make(chan string, 1)
	aSawPeer := make(chan string, 1)
	aLostPeer := make(chan string, 1)

	clientA, err := Dial(Config{
		URL: url,
		Callbacks: Callbacks{
			OnSelfJoined: func(selfID string, _ []string) { aJoined <- selfID },
			OnPeerJoined: func(peerID string) { aSawPeer <- peerID },
			OnPeerLeft:   func(peerID string) { aLostPeer <- peerID },
		},
	})
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer clientA.Close()
	waitString(t, aJoined, "A's self-joined")

	clientB, err := Dial(Config{URL: url})
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}

	peerB := waitString(t, aSawPeer, "A to see B join")
	clientB.Close()

	if got := waitString(t, aLostPeer, "A's peer-left"); got != peerB {
		t.Errorf("peer-left for %q, want %q", got, peerB)
	}
}

func TestConcurrentPingsToSamePeer(t *testing.T) {
	c := newTestClient(Callbacks{})

	result := make(chan error, 1)
	go func() {
		_, err := c.Ping("peer-1", time.Second)
		result <- err
	}()

	// Wait until the first probe is registered.
	deadline := time.Now().Add(time.Second)
	for {
		c.mx.Lock()
		_, registered := c.pings["peer-1"]
		c.mx.Unlock()
		if registered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first ping never registered")
		}
		time.Sleep(time.Millisecond)
	}

	// A second probe to the same peer cannot be matched to its pong and
	// must be refused instead of stealing the first one's slot.
	if _, err := c.Ping("peer-1", time.Second); !errors.Is(err, ErrPingInFlight) {
		t.Errorf("err = %v, want ErrPingInFlight", err)
	}

	c.dispatch(model.NewPong("self", "peer-1"))
	if err := <-result; err != nil {
		t.Errorf("first ping resolved with %v, want its pong", err)
	}

	// The slot is free again once the first probe resolved.
	if _, err := c.Ping("peer-1", 10*time.Millisecond); !errors.Is(err, ErrPingTimeout) {
		t.Errorf("follow-up ping err = %v, want ErrPingTimeout", err)
	}
}

func TestSendOfferBeforeJoin(t *testing.T) {
	c := newTestClient(Callbacks{})
	c.selfID = ""

	if _, err := c.SendOffer(context.Background(), "peer-1"); !errors.Is(err, ErrNotJoined) {
		t.Errorf("err = %v, want ErrNotJoined", err)
	}
}
