package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/shellpool/internal/node"
	"github.com/danmuck/shellpool/internal/observability"
	"github.com/danmuck/shellpool/internal/toolbox"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Node exposes a Toolbox over HTTP.
type Node struct {
	ID       string    `json:"id"`
	Addr     string    `json:"addr"`
	Appeared time.Time `json:"appeared"`

	toolbox *toolbox.Toolbox
	router  *gin.Engine
}

var _ node.Node = (*Node)(nil)

func New(id, addr string, tb *toolbox.Toolbox, corsOrigins []string) *Node {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, id))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	n := &Node{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		toolbox:  tb,
		router:   r,
	}
	n.RegisterRoutes()
	return n
}

func (n *Node) NodeID() string {
	return n.ID
}

func (n *Node) Kind() string {
	return "shellpool"
}

func (n *Node) HTTPRouter() *gin.Engine {
	return n.router
}

func (n *Node) Toolbox() *toolbox.Toolbox {
	return n.toolbox
}

// Serve blocks until ctx is done or the listener fails. Shutdown waits for
// in-flight requests up to five seconds.
func (n *Node) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              n.Addr,
		Handler:           n.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("node", n.ID).Str("addr", n.Addr).Msg("http node listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Str("node", n.ID).Msg("http node stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
