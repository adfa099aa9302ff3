package canvas

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
)

// TokenRing hands out API tokens round-robin so several personal access
// tokens share the per-token Canvas throttle.
type TokenRing struct {
	tokens []string
	next   atomic.Uint64
}

// LoadTokens combines explicit tokens with every *.txt file in dir (sorted by
// name). Blank entries are skipped and duplicates collapse.
func LoadTokens(explicit []string, dir string) (*TokenRing, error) {
	seen := make(map[string]bool)
	ring := &TokenRing{}
	add := func(tok string) {
		tok = strings.TrimSpace(tok)
		if tok == "" || seen[tok] {
			return
		}
		seen[tok] = true
		ring.tokens = append(ring.tokens, tok)
	}
	for _, tok := range explicit {
		add(tok)
	}
	if dir == "" {
		return ring, nil
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, fmt.Errorf("glob token dir: %w", err)
	}
	sort.Strings(paths)
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read token file %s: %w", filepath.Base(p), err)
		}
		add(string(raw))
	}
	return ring, nil
}

// Len reports how many tokens are loaded.
func (r *TokenRing) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tokens)
}

// Next returns the next token, or "" when none are configured.
func (r *TokenRing) Next() string {
	if r.Len() == 0 {
		return ""
	}
	n := r.next.Add(1) - 1
	return r.tokens[n%uint64(len(r.tokens))]
}
