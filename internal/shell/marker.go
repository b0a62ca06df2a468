package shell

import (
	"fmt"

	"github.com/google/uuid"
)

// MarkerFunc produces one sentinel token per execution call.
type MarkerFunc func() string

// NewMarker returns a fresh sentinel of the form marker{<uuid>}.
// The token has no whitespace and no shell metacharacters, so it can be
// echoed unquoted.
func NewMarker() string {
	return fmt.Sprintf("marker{%s}", uuid.NewString())
}
