package analysis

import (
	"errors"

	"github.com/morezero/market-agent/pkg/a2a"
)

// ErrNoAnalyzableText is returned when no text could be extracted from the
// request messages.
var ErrNoAnalyzableText = errors.New("no analyzable text in request")

// Request is the normalized input handed to the analyzer.
type Request struct {
	Method    string
	Messages  []a2a.Message
	ContextID string
	TaskID    string
	// Summary forces the market-wide summary path.
	Summary bool
}
