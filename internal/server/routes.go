package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danmuck/shellpool/internal/observability"
	"github.com/danmuck/shellpool/internal/shell"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ExecRequest is the body of POST /exec. Pool is auto, privileged or
// unprivileged; auto probes the privileged pool first.
type ExecRequest struct {
	Commands []string `json:"commands"`
	Pool     string   `json:"pool"`
	Safe     bool     `json:"safe"`
}

type ExecResponse struct {
	Pool    string   `json:"pool"`
	Lines   []string `json:"lines"`
	Outcome string   `json:"outcome"`
	Error   string   `json:"error,omitempty"`
}

func (n *Node) RegisterRoutes() {
	r := n.router

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(n.Appeared).String(),
			"service": n.ID,
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":      n.toolbox != nil,
			"executable": n.executablePath(),
			"uptime":     time.Since(n.Appeared).String(),
			"service":    n.ID,
			"version":    version,
		})
	})

	r.GET("/pools", func(c *gin.Context) {
		if !n.requireToolbox(c) {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"pools":     n.toolbox.Stats(),
			"observers": n.toolbox.Observers().Active(),
		})
	})

	r.POST("/exec", n.handleExec)

	r.POST("/reset", func(c *gin.Context) {
		if !n.requireToolbox(c) {
			return
		}
		n.toolbox.Reset()
		log.Info().Str("node", n.ID).Msg("pools reset")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "pools": n.toolbox.Stats()})
	})

	r.POST("/observers", func(c *gin.Context) {
		if !n.requireToolbox(c) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"observers": n.toolbox.Observers().Attach()})
	})

	r.DELETE("/observers", func(c *gin.Context) {
		if !n.requireToolbox(c) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"observers": n.toolbox.Observers().Detach()})
	})
}

func (n *Node) handleExec(c *gin.Context) {
	if !n.requireToolbox(c) {
		return
	}
	var req ExecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pool, lines, err := n.run(c.Request.Context(), req.Pool, req.Commands)
	if errors.Is(err, errUnknownPool) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	poolName := "none"
	if pool != nil {
		poolName = pool.Kind().String()
	}
	c.Set(observability.ContextPool, poolName)

	outcome := shell.Outcome(err)
	if err != nil && req.Safe {
		outcome = "failed"
	}
	c.Set(observability.ContextOutcome, outcome)

	if err != nil {
		log.Warn().
			Str("node", n.ID).
			Str("pool", poolName).
			Str("outcome", shell.Outcome(err)).
			Err(err).
			Msg("exec failed")
		if req.Safe {
			c.JSON(http.StatusOK, ExecResponse{Pool: poolName, Lines: []string{}, Outcome: outcome})
			return
		}
		c.JSON(execStatus(err), ExecResponse{
			Pool:    poolName,
			Lines:   []string{},
			Outcome: outcome,
			Error:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, ExecResponse{Pool: poolName, Lines: lines, Outcome: outcome})
}

var errUnknownPool = errors.New("unknown pool")

// run executes on the named pool; auto goes through the toolbox facade. The
// returned pool is nil when no pool served the batch.
func (n *Node) run(ctx context.Context, raw string, commands []string) (*shell.Pool, []string, error) {
	if raw == "" || raw == "auto" {
		return n.toolbox.Run(ctx, commands...)
	}
	kind, err := shell.ParseKind(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errUnknownPool, err)
	}
	pool := n.toolbox.Pool(kind)
	lines, err := pool.Execute(ctx, commands...)
	return pool, lines, err
}

func execStatus(err error) int {
	switch {
	case errors.Is(err, shell.ErrCommandFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shell.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, shell.ErrNotInitialized), errors.Is(err, shell.ErrSpawn):
		return http.StatusServiceUnavailable
	case errors.Is(err, shell.ErrProcessTerminated):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (n *Node) requireToolbox(c *gin.Context) bool {
	if n.toolbox != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": shell.ErrNotInitialized.Error()})
	return false
}

func (n *Node) executablePath() string {
	if n.toolbox == nil {
		return ""
	}
	return n.toolbox.ExecutablePath()
}
