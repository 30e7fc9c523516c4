// Package server exposes a loaded voice model over HTTP.
package server

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-model/internal/core"
	"github.com/book-expert/voice-model/internal/tts"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	corsMaxAge        = 12 * time.Hour
)

//go:embed web/index.html
var defaultIndex []byte

// ErrNoSynthesizer is returned when New is called without a synthesizer.
var ErrNoSynthesizer = errors.New("server requires a synthesizer")

// Deps is everything the handlers read. It is captured once by New and never
// mutated afterwards.
type Deps struct {
	Synthesizer     core.Synthesizer
	DefaultSpeaker  string
	DefaultLanguage string
	// IndexPath replaces the embedded test page when set.
	IndexPath string
	Log       *logger.Logger
}

// New builds the gin engine with recovery, request logging, and CORS. The gin mode
// is process-wide and left to the caller.
func New(deps Deps) (*gin.Engine, error) {
	if deps.Synthesizer == nil {
		return nil, ErrNoSynthesizer
	}

	index := defaultIndex

	if deps.IndexPath != "" {
		page, err := os.ReadFile(deps.IndexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read index page %s: %w", deps.IndexPath, err)
		}

		index = page
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(deps.Log))
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        corsMaxAge,
	}))

	h := &handlers{
		synth:           deps.Synthesizer,
		voices:          tts.VoicesOf(deps.Synthesizer),
		defaultSpeaker:  deps.DefaultSpeaker,
		defaultLanguage: deps.DefaultLanguage,
		index:           index,
		log:             deps.Log,
	}

	engine.GET("/", h.root)
	engine.POST("/tts", h.synthesize)
	engine.GET("/speakers", h.listSpeakers)
	engine.GET("/health", h.health)

	return engine, nil
}

func loggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info(
			"[HTTP] %s %s -> %d (%s)",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// Serve runs handler on listener until ctx is cancelled, then shuts down
// gracefully, letting in-flight requests finish.
func Serve(ctx context.Context, listener net.Listener, handler http.Handler, log *logger.Logger) error {
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 1)

	go func() {
		errChan <- httpServer.Serve(listener)
	}()

	log.Info("Server listening on %s", listener.Addr())

	select {
	case err := <-errChan:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	serveErr := <-errChan
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("server stopped: %w", serveErr)
	}

	return nil
}
