// Command peer is a console client: it joins a room on the relay, offers a
// handshake to the first peer it sees (or accepts one), and then exchanges
// receipt-tracked chat lines over the direct channel.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/sebastiansandqvist/p2p-game-lobby/lobby"
	"github.com/sebastiansandqvist/p2p-game-lobby/p2p"
	"github.com/sebastiansandqvist/p2p-game-lobby/webrtcpeer"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		serverURL = fs.StringP("server", "s", "ws://localhost:3333", "relay base URL")
		room      = fs.StringP("room", "r", "shared", "room to join")
		initiate  = fs.BoolP("initiate", "i", false, "offer a handshake to the first known peer")
		logLevel  = fs.StringP("log-level", "l", "info", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	ctx := context.Background()
	peers := make(chan string, 8)
	connected := make(chan *p2p.Conn, 1)

	client, err := lobby.Dial(lobby.Config{
		URL:       strings.TrimSuffix(*serverURL, "/") + "/" + *room,
		NewHost:   webrtcpeer.Factory,
		Logger:    &logger,
		Callbacks: peerCallbacks(peers, connected, *initiate, &logger),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to dial relay")
	}
	defer client.Close()

	// Offers start here, not inside the callbacks: dispatch can fire before
	// Dial returns, when no client handle exists yet.
	if *initiate {
		go offerLoop(ctx, client, peers, &logger)
	}

	conn := <-connected

	// The handshake is done; wait for the channel itself to open before
	// writing.
	if sess, ok := client.Session(peerID(client)); ok {
		<-sess.ChannelReady()
	}

	rtt, err := conn.SendWithReceipt(mustJSON("hello"), p2p.DefaultReceiptTimeout)
	if err != nil {
		logger.Error().Err(err).Msg("greeting was not acknowledged")
	} else {
		logger.Info().Dur("rtt", rtt).Msg("greeting delivered")
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err = conn.Send(mustJSON(line)); err != nil {
			logger.Error().Err(err).Msg("failed to send message")
			return
		}
	}
}

// peerCallbacks routes dispatch events onto channels. The callbacks never
// touch the client handle: they can run before Dial has returned it.
func peerCallbacks(peers chan<- string, connected chan<- *p2p.Conn, initiate bool, logger *zerolog.Logger) lobby.Callbacks {
	queue := func(peerID string) {
		if !initiate {
			return
		}
		select {
		case peers <- peerID:
		default:
		}
	}
	return lobby.Callbacks{
		OnSelfJoined: func(selfID string, peerIDs []string) {
			logger.Info().Str("selfID", selfID).Strs("peers", peerIDs).Msg("joined room")
			if len(peerIDs) > 0 {
				queue(peerIDs[0])
			}
		},
		OnPeerJoined: func(peerID string) {
			logger.Info().Str("peerID", peerID).Msg("peer joined")
			queue(peerID)
		},
		OnPeerLeft: func(peerID string) {
			logger.Info().Str("peerID", peerID).Msg("peer left")
		},
		OnOffer: func(peerID string, sess *lobby.Session) {
			logger.Info().Str("peerID", peerID).Msg("got offer, answering")
			go func() {
				if err := sess.SendAnswer(context.Background()); err != nil {
					logger.Error().Err(err).Msg("failed to answer")
				}
			}()
		},
		OnConnected: func(peerID string, conn *p2p.Conn) {
			logger.Info().Str("peerID", peerID).Msg("handshake complete")
			select {
			case connected <- conn:
			default:
			}
		},
		OnOfferRejected: func(peerID string) {
			logger.Warn().Str("peerID", peerID).Msg("offer rejected")
		},
		OnMessage: func(peerID string, payload []byte) {
			var text string
			if err := json.Unmarshal(payload, &text); err != nil {
				logger.Debug().Msg(spew.Sdump(payload))
				return
			}
			fmt.Printf("%s> %s\n", peerID, text)
		},
	}
}

// offerLoop drives one handshake attempt per announced peer.
func offerLoop(ctx context.Context, client *lobby.Client, peers <-chan string, logger *zerolog.Logger) {
	for peerID := range peers {
		offer(ctx, client, peerID, logger)
	}
}

func offer(ctx context.Context, client *lobby.Client, peerID string, logger *zerolog.Logger) {
	if rtt, err := client.Ping(peerID, time.Second); err == nil {
		logger.Info().Str("peerID", peerID).Dur("relayRTT", rtt).Msg("relay latency")
	}
	if _, err := client.SendOffer(ctx, peerID); err != nil {
		logger.Error().Err(err).Str("peerID", peerID).Msg("failed to send offer")
	}
}

func peerID(client *lobby.Client) string {
	for _, id := range client.Peers() {
		return id
	}
	return ""
}

func mustJSON(text string) []byte {
	b, err := json.Marshal(text)
	if err != nil {
		panic(err)
	}
	return b
}
