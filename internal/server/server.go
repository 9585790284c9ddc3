package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/pdords-ai/beacon/internal/identity"
	"github.com/pdords-ai/beacon/internal/presence"
	"github.com/pdords-ai/beacon/internal/router"
	"github.com/pdords-ai/beacon/internal/server/middleware"
	"github.com/pdords-ai/beacon/pkg/config"
	"github.com/pdords-ai/beacon/pkg/transport"
)

// App wires the registry, router, sweeper and HTTP endpoint together
// and owns the connection lifecycle from handshake to teardown.
type App struct {
	logger      *slog.Logger
	registry    *presence.Registry
	eventRouter *router.EventRouter
	sweeper     *presence.Sweeper
	wg          sync.WaitGroup
	http        *http.Server
	config      *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, verifier identity.Verifier) *App {
	registry := presence.NewRegistry(logger)
	eventRouter := router.NewEventRouter(logger, registry)
	sweeper := presence.NewSweeper(logger, registry, cfg.Presence.SweepInterval, cfg.Presence.StaleAfter)

	app := &App{
		logger:      logger,
		registry:    registry,
		eventRouter: eventRouter,
		sweeper:     sweeper,
		config:      cfg,
		ctx:         rootCtx,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			middleware.NewConnectionLimiter(logger, registry.CountByIP, cfg.Server.ConnectionLimit),
			middleware.NewAuthMiddleware(logger, verifier),
		),
	)

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}
	return app
}

func (a *App) Run() error {
	go a.sweeper.Run(a.ctx)

	go func() {
		a.logger.Info("server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

// upgradeHandler runs after the middleware chain, so the request
// carries a verified identity by the time the upgrade happens.
func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok || reqMeta.User == nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.User.ID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		connLogger.Error("failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.logger,
	)

	// Registration and the presence broadcasts happen before the pumps
	// start; the frames sit in the send buffer until Run flushes them,
	// so the new client always sees its online_users snapshot first
	// among its own inbox.
	a.eventRouter.HandleConnect(conn.ID(), conn, reqMeta.User, reqMeta.IP)
	conn.SetMessageHandler(a.eventRouter.HandleMessage)
	conn.SetCloseHandler(func(id uuid.UUID, err error) {
		a.eventRouter.HandleDisconnect(id, err)
	})

	connLogger.Info("user connection fully established")
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence. Cancelling the root context has already
// begun tearing down every connection through its inherited context;
// here we stop the listener and wait for the teardowns to finish.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.logger.Info("waiting for connections to drain...")
	a.wg.Wait()
	a.logger.Info("server shut down gracefully.")
	return nil
}
