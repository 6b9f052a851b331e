package order

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

const maxPrefixLen = 4

// IDGenerator issues process-unique, monotonically numbered order ids of the
// form PREFIX-session-counter. The session part keeps ids unique across restarts.
type IDGenerator struct {
	head    string
	counter atomic.Uint64
}

// NewIDGenerator truncates prefix to four characters; an empty prefix becomes "EC".
func NewIDGenerator(prefix string) *IDGenerator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "EC"
	}
	if len(prefix) > maxPrefixLen {
		prefix = prefix[:maxPrefixLen]
	}
	session := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return &IDGenerator{head: prefix + "-" + session + "-"}
}

// Next returns a fresh id.
func (g *IDGenerator) Next() string {
	return g.head + strconv.FormatUint(g.counter.Add(1), 10)
}

// Match reports whether id was issued by this generator.
func (g *IDGenerator) Match(id string) bool {
	rest, ok := strings.CutPrefix(id, g.head)
	if !ok || rest == "" {
		return false
	}
	_, err := strconv.ParseUint(rest, 10, 64)
	return err == nil
}

// Issued is the number of ids handed out.
func (g *IDGenerator) Issued() uint64 { return g.counter.Load() }
