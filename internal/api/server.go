// Package api serves the conversation REST endpoints and the websocket
// gateway over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/jobchat/internal/chat"
)

// Gateway is the live-connection side of the server. *gateway.Hub
// satisfies it.
type Gateway interface {
	Online(ctx context.Context) ([]string, error)
	ServeWS(w http.ResponseWriter, r *http.Request, identity string) error
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Chat    *chat.Service
	Gateway Gateway
	Auth    *Authenticator
	Port    int
	Out     io.Writer
}

// NewRouter builds the Gin engine with every route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Chat == nil {
		return nil, fmt.Errorf("api: chat service is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("api: gateway is required")
	}
	if opts.Auth == nil {
		return nil, fmt.Errorf("api: authenticator is required")
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	registerRoutes(router, opts.Chat, opts.Gateway, opts.Auth)
	return router, nil
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "jobchat listening on http://localhost:%d\n", opts.Port)
	}
	if opts.Auth.DevMode() {
		logrus.Warnf("api: no jwt secret configured, trusting %s header", DevIdentityHeader)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// requestLogger logs one line per request through logrus.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if id := identity(c); id != "" {
			entry = entry.WithField("user", id)
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("api: request")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Info("api: request")
		default:
			entry.Debug("api: request")
		}
	}
}
