package oracle

import (
	"encoding/hex"
	"sort"
	"strings"

	"lukechampine.com/blake3"
)

// SourceNames returns the registered source names in sorted order.
func (a *Aggregator) SourceNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.sources))
	for name := range a.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fingerprint hashes the registered source set so callers can detect silent
// configuration drift between restarts (a source added, removed, or
// renamed), per §C.5. This is a non-consensus-critical bookkeeping hash, not
// part of any signature or commitment.
func (a *Aggregator) Fingerprint() string {
	joined := strings.Join(a.SourceNames(), "\n")
	sum := blake3.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}
