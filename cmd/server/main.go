package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/boardterm/relay/api/handlers"
	"github.com/boardterm/relay/internal/config"
	"github.com/boardterm/relay/internal/relay"
	"github.com/boardterm/relay/internal/session"
	"github.com/boardterm/relay/internal/token"
	"github.com/boardterm/relay/internal/ws"
)

// requestPurgeInterval is the period of the pending-request purge tick. The
// purge also happens lazily on every read; the tick only bounds the map size
// between reads.
const requestPurgeInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	tokens := token.NewCodec(cfg.Secret)

	sessions := session.NewManager(session.Config{
		AllowedRoot: cfg.AllowedRoot,
		IdleTimeout: cfg.IdleTimeout,
	})
	defer sessions.Shutdown()

	contextStore := relay.NewStore()
	gateway := ws.NewGateway(sessions, tokens, cfg.AllowedOrigins)

	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.Use(handlers.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", handlers.NewHealthHandler(sessions).Health)
	r.GET("/ws", gin.WrapF(gateway.HandleUpgrade))

	api := r.Group("/api")
	{
		handlers.NewPTYHandler(sessions, tokens, cfg.TokenTTL).RegisterRoutes(api)
		handlers.NewContextHandler(contextStore).RegisterRoutes(api)
	}

	// Periodic tasks run until shutdown cancels them.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sessions.RunSweeper(ctx)
	go runRequestPurge(ctx, contextStore)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")

		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
		sessions.Shutdown()
	}()

	log.Printf("Starting terminal relay on port %s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// runRequestPurge drops expired context refresh requests on a fixed tick.
func runRequestPurge(ctx context.Context, store *relay.Store) {
	ticker := time.NewTicker(requestPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.PurgeExpired(time.Now())
		}
	}
}
