// Package node defines the contract every HTTP surface of shellpool meets so
// binaries can run them without knowing the concrete type.
package node

import (
	"context"

	"github.com/gin-gonic/gin"
)

type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
	// Serve blocks until ctx is done or the listener fails.
	Serve(ctx context.Context) error
}
