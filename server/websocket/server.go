package websocket

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sebastiansandqvist/p2p-game-lobby/model"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 64 * 1024 // SDP payloads can be large
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second

	healthPath = "/healthz"
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	// SignalingService receives room membership events and routes envelopes
	// between connections.
	SignalingService interface {
		Join(roomID, clientID string, wire model.Wire)
		Leave(roomID, clientID string)
		Route(roomID, fromID string, env model.Envelope) error
	}

	Config struct {
		Logger           *zerolog.Logger
		SignalingService SignalingService
		ListenAddr       string
	}

	Server struct {
		svc SignalingService
		ws  *websocket.Upgrader
		*http.Server

		logger zerolog.Logger
	}
)

// NewServer builds the relay's websocket endpoint. Every URL path except the
// health check selects a room; path segments are opaque and only ever used
// as a map key.
func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:    cfg.SignalingService,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, healthz)
	mux.HandleFunc("/", srv.signal)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

// healthz answers a liveness probe without upgrading to the signaling
// protocol.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// clientIdentity derives a collision-resistant per-connection token from the
// websocket handshake key and the network address. Identities are never
// reused after disconnect.
func clientIdentity(r *http.Request) string {
	sum := sha256.Sum256([]byte(r.Header.Get("Sec-WebSocket-Key") + r.RemoteAddr))
	return hex.EncodeToString(sum[:8])
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) signal(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Path
	clientID := clientIdentity(r)

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	wire := model.NewWire()
	srv.svc.Join(roomID, clientID, wire)

	srv.logger.Debug().
		Str("roomID", roomID).
		Str("clientID", clientID).
		Msg("signaling session created")

	go srv.handleWSConn(conn, roomID, clientID, wire)
}

func (srv *Server) handleWSConn(conn *websocket.Conn, roomID, clientID string, wire model.Wire) {
	var (
		wg          = &sync.WaitGroup{}
		ctx, cancel = context.WithCancel(context.Background())
		logger      = srv.logger.With().
				Str("roomID", roomID).
				Str("clientID", clientID).
				Logger()
	)

	wg.Add(2)
	go func() {
		srv.webSocketReceiver(ctx, wg, conn, roomID, clientID, &logger)
		cancel()
	}()
	go func() {
		webSocketSender(ctx, wg, conn, wire.TX, &logger)
		cancel()
	}()

	wg.Wait()
	webSocketCloser(conn, &logger)
	srv.svc.Leave(roomID, clientID)
	logger.Debug().Msg("signaling session ended")
}

func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan model.Envelope,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
			}
			logger.Trace().Msg("ping sent")

		case env, ok := <-tx:
			if !ok {
				break SendLoop
			}

			b, wsErr := model.Encode(env)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to marshall outgoing envelope")
				break SendLoop
			}

			wsErr = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.TextMessage, b)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to write outgoing envelope")
				break SendLoop
			}
		}
	}
}

func (srv *Server) webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	roomID string,
	clientID string,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	err := readDeadLineFunc(defaultPongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, raw, wsErr := conn.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Warn().Err(wsErr).Msg("connection closed")
				} else {
					logger.Error().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}

			env, decErr := model.Decode(raw)
			if decErr != nil {
				// Malformed envelopes never tear down the connection.
				logger.Error().Err(decErr).Msg("dropping malformed envelope")
				continue
			}
			if rErr := srv.svc.Route(roomID, clientID, env); rErr != nil {
				logger.Warn().Err(rErr).Str("kind", env.EnvelopeKind()).Msg("envelope not routed")
			}
		}
	}
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = conn.WriteMessage(websocket.CloseMessage, []byte{})
		if wsErr != nil {
			logger.Error().Err(wsErr).Msg("failed to close websocket connection")
		}
	}
	wsErr = conn.Close()
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to close websocket connection")
	}
}
