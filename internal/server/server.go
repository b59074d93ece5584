package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/RipMyLoven/ani/internal/event"
	"github.com/RipMyLoven/ani/internal/httpapi"
	"github.com/RipMyLoven/ani/internal/presence"
	"github.com/RipMyLoven/ani/internal/relay"
	"github.com/RipMyLoven/ani/internal/rooms"
	"github.com/RipMyLoven/ani/internal/router"
	"github.com/RipMyLoven/ani/internal/server/middleware"
	"github.com/RipMyLoven/ani/internal/session"
	"github.com/RipMyLoven/ani/internal/store"
	"github.com/RipMyLoven/ani/pkg/config"
	"github.com/RipMyLoven/ani/pkg/token"
	"github.com/RipMyLoven/ani/pkg/transport"
)

// App owns the socket server's lifecycle and all process-wide chat state.
// It is constructed once at bootstrap and passed by reference to anything
// that needs it; there is no ambient global handle.
type App struct {
	logger      *slog.Logger
	config      *config.Config
	store       store.Store
	sessions    *session.Store
	codec       *token.Codec
	registry    *Registry
	rooms       *rooms.Index
	presence    *presence.Tracker
	relayer     *relay.Relay
	eventRouter *router.EventRouter

	wg      sync.WaitGroup
	http    *http.Server
	running atomic.Bool

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, st store.Store) *App {
	app := &App{
		logger:   logger,
		config:   cfg,
		store:    st,
		sessions: session.NewStore(st),
		codec:    token.NewCodec(cfg.Server.Auth.TokenSecret),
		registry: NewRegistry(),
		rooms:    rooms.NewIndex(logger),
		presence: presence.NewTracker(logger),
		ctx:      rootCtx,
	}
	app.relayer = relay.New(st, app.rooms, app.registry, logger)
	app.eventRouter = router.NewEventRouter(logger, app.relayer, app.rooms, st, app.registry, cfg.Store.QueryTimeout)

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	// A new handshake for an already-connected principal cycles out the old
	// socket: one active connection per session.
	connCycler := func(principalID string) {
		for _, c := range app.registry.ClientsFor(principalID) {
			logger.Info("Cycling connection: closing previous socket",
				slog.String("principalID", principalID), slog.String("connID", c.ConnID().String()))
			c.conn.Close(errors.New("connection cycled by new handshake"))
		}
	}

	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, app.codec, app.sessions, cfg.Server.HandshakeTimeout),
			middleware.NewConnectionLimiter(logger, app.registry.CountFor, connCycler, cfg.Server.ConnectionLimit),
		),
	)

	api := httpapi.NewHandler(logger, st, app.sessions, app.codec, app.presence, cfg, app.DisconnectPrincipal)
	api.Register(mux)

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	a.running.Store(true)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

// IsRunning reports whether the server is accepting connections.
func (a *App) IsRunning() bool {
	return a.running.Load()
}

// ConnectionCount returns the number of live websocket connections.
func (a *App) ConnectionCount() int {
	return a.registry.Count()
}

// DisconnectPrincipal force-closes every live connection owned by the
// principal. Logout calls this so an invalidated session cannot keep an
// authenticated socket alive.
func (a *App) DisconnectPrincipal(principalID string) {
	for _, c := range a.registry.ClientsFor(principalID) {
		a.logger.Info("Force-closing connection for logged-out principal",
			slog.String("principalID", principalID), slog.String("connID", c.ConnID().String()))
		c.conn.Close(errors.New("session invalidated"))
	}
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok || reqMeta.Principal == nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	principal := reqMeta.Principal
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("principalID", principal.ID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		a.ctx,
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.logger,
	)
	client := newClient(conn, principal.ID, principal.Username)
	a.registry.Add(client)

	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(_ uuid.UUID, err error) {
		a.teardown(client, err)
	})

	if err := a.setup(client); err != nil {
		connLogger.Error("Connection setup failed", slog.Any("error", err))
		// Written directly so the frame reaches the client before the close,
		// instead of racing the write pump's shutdown.
		if frame, merr := event.Marshal(event.ConnectionError, event.ErrorPayload{Message: "Failed to setup connection"}); merr == nil {
			if werr := conn.WriteNow(frame); werr != nil {
				connLogger.Warn("Failed to deliver setup error", slog.Any("error", werr))
			}
		}
		conn.Run()
		conn.Close(err)
		<-conn.Done()
		return
	}

	a.sendEvent(client, event.ConnectionEstablished, event.ConnectionEstablishedPayload{
		Message:  "Successfully connected to WebSocket",
		UserID:   principal.ID,
		Username: principal.Username,
	})

	connLogger.Info("Connection fully established", slog.String("connID", client.ConnID().String()))
	conn.Run()
	<-conn.Done()
}

// setup transitions an authenticated connection to Active: presence goes
// online and the connection is auto-subscribed to every conversation its
// principal already belongs to.
func (a *App) setup(client *Client) error {
	a.presence.MarkOnline(client.PrincipalID(), client.ConnID())

	ctx, cancel := context.WithTimeout(a.ctx, a.config.Store.QueryTimeout)
	defer cancel()
	convs, err := a.store.ConversationsFor(ctx, client.PrincipalID())
	if err != nil {
		return err
	}
	for _, conv := range convs {
		a.rooms.Join(client.ConnID(), conv.ID)
	}
	a.logger.Debug("Auto-joined conversations",
		slog.String("principalID", client.PrincipalID()), slog.Int("count", len(convs)))
	return nil
}

// teardown runs exactly once per connection regardless of how many close
// signals arrive.
func (a *App) teardown(client *Client, err error) {
	client.teardownOnce.Do(func() {
		a.rooms.LeaveAll(client.ConnID())
		a.presence.MarkOffline(client.PrincipalID(), client.ConnID())
		a.registry.Remove(client.ConnID())
		a.logger.Info("Connection torn down",
			slog.String("connID", client.ConnID().String()),
			slog.String("principalID", client.PrincipalID()),
			slog.Any("reason", err),
		)
	})
}

func (a *App) sendEvent(client *Client, name string, payload any) {
	frame, err := event.Marshal(name, payload)
	if err != nil {
		a.logger.Error("Failed to marshal event", slog.String("event", name), slog.Any("error", err))
		return
	}
	client.Send(frame)
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	a.running.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.logger.Info("Closing all active connections...")
	for _, client := range a.registry.All() {
		client.conn.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
