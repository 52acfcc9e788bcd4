// Package tokens provides token estimation using tiktoken. Estimates are
// advisory: the sync engine logs them so oversized prompts are visible
// before the upstream call.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	. "github.com/roelfdiedericks/modelgate/internal/logging"
)

// DefaultEncoding is cl100k_base. Counts for non-OpenAI models are rough
// but close enough for logging.
const DefaultEncoding = "cl100k_base"

// Estimator counts tokens for a prompt string.
type Estimator struct {
	encoding *tiktoken.Tiktoken
}

var (
	global     *Estimator
	globalOnce sync.Once
)

// Get returns the process-wide estimator, falling back to a chars/4
// heuristic if the encoding cannot be loaded.
func Get() *Estimator {
	globalOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(DefaultEncoding)
		if err != nil {
			L_warn("tokens: failed to load encoding, using chars/4 fallback", "error", err)
			global = &Estimator{}
			return
		}
		global = &Estimator{encoding: enc}
	})
	return global
}

// Count returns the estimated token count for text.
func (e *Estimator) Count(text string) int {
	if e == nil || e.encoding == nil {
		return len(text) / 4
	}
	return len(e.encoding.Encode(text, nil, nil))
}
