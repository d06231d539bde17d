package ids

import (
	"crypto/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewVUID returns a lower-case ULID used to identify one virtual user. It
// doubles as the correlation id prefix for that user's requests.
func NewVUID() string {
	return strings.ToLower(CreateULID())
}

// Sequence hands out "<prefix>.<n>" identifiers with n starting at 1. Two
// sequences with distinct prefixes never collide, so ids stay unique across
// virtual users sharing one reply topic.
type Sequence struct {
	prefix string
	next   atomic.Uint64
}

// NewSequence creates a sequence scoped to prefix.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// Next returns the next identifier.
func (s *Sequence) Next() string {
	n := s.next.Add(1)
	if s.prefix == "" {
		return strconv.FormatUint(n, 10)
	}
	return s.prefix + "." + strconv.FormatUint(n, 10)
}

// Issued reports whether id was handed out by this sequence.
func (s *Sequence) Issued(id string) bool {
	rest := id
	if s.prefix != "" {
		var ok bool
		if rest, ok = strings.CutPrefix(id, s.prefix+"."); !ok {
			return false
		}
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	return err == nil && n >= 1 && n <= s.next.Load()
}

// Prefix returns the scope of the sequence.
func (s *Sequence) Prefix() string {
	return s.prefix
}
