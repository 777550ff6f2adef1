package frag

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"k8s.io/utils/clock"

	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/log"
	"firestige.xyz/lowpan/internal/metrics"
)

// Reassembly defaults.
const (
	DefaultSlots   = 4
	DefaultTimeout = 5 * time.Second

	btreeDegree = 4
)

// HeaderSizer reports, for the payload of a first fragment, how many bytes
// the compressed header occupies and how many uncompressed bytes it stands
// for. It lets the cache place the first fragment in uncompressed
// coordinates.
type HeaderSizer func(payload []byte) (compressed, uncompressed int, err error)

// CacheConfig contains configuration for the reassembly cache.
type CacheConfig struct {
	Name      string                     // interface label for logs and metrics
	Slots     int                        // concurrent reassemblies (default 4)
	Timeout   time.Duration              // per-entry deadline (default 5s)
	RateLimit RateLimiterConfig          // per-source limit (0 = disabled)
	Clock     clock.WithDelayedExecution // default clock.RealClock
	Sizer     HeaderSizer                // nil = first fragment carries no compressed header
	Logger    log.Logger                 // default log.GetLogger()
	OnTimeout func(size, tag uint16)     // called after an entry expired, outside the lock
}

// Fragment is one received fragment.
type Fragment struct {
	Header  Header
	Payload []byte           // bytes after the fragmentation header
	Source  core.LinkAddress // link source, for rate limiting
}

// cacheKey identifies a datagram under reassembly.
type cacheKey struct {
	size uint16
	tag  uint16
}

// piece is a received range in uncompressed coordinates. For the first
// fragment span exceeds len(data) by the header compression delta.
type piece struct {
	offset int
	span   int
	first  bool
	data   []byte
}

func (p piece) end() int { return p.offset + p.span }

func pieceLess(a, b piece) bool { return a.offset < b.offset }

// entry is one in-progress reassembly.
type entry struct {
	key       cacheKey
	pieces    *btree.BTreeG[piece] // non-overlapping, ordered by offset
	covered   int
	haveFirst bool
	firstSrc  core.LinkAddress // link source of the first fragment
	timer     clock.Timer
}

// Cache merges fragments keyed by (size, tag) into datagrams. Receive path
// and deadline timers share one mutex; a timer only frees the entry it was
// armed for.
type Cache struct {
	mu          sync.Mutex
	entries     map[cacheKey]*entry
	config      CacheConfig
	rateLimiter *RateLimiter // nil if rate limiting disabled
	logger      log.Logger
}

// NewCache creates a reassembly cache.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.Slots <= 0 {
		cfg.Slots = DefaultSlots
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Cache{
		entries:     make(map[cacheKey]*entry, cfg.Slots),
		config:      cfg,
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.Clock.Now()),
		logger:      logger.WithField("interface", cfg.Name),
	}
}

// Insert merges f into its entry. It returns the assembled datagram, in
// link encoding (compressed header included), once every byte of the
// declared size is covered. Rejected fragments leave the cache untouched.
func (c *Cache) Insert(f Fragment) ([]byte, bool, error) {
	p, err := c.place(f)
	if err != nil {
		return nil, false, err
	}
	if c.rateLimiter != nil && !c.rateLimiter.Allow(f.Source, c.config.Clock.Now()) {
		return nil, false, fmt.Errorf("%w: source %s", core.ErrRateLimited, f.Source)
	}

	key := cacheKey{size: f.Header.Size, tag: f.Header.Tag}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[key]
	if exists && f.Header.First && e.haveFirst && !e.resent(f.Source, p) {
		// another sender reusing the size and tag replaces the stale datagram
		c.logger.WithFields(map[string]interface{}{"size": key.size, "tag": key.tag}).
			Debug("first fragment collision, evicting pending reassembly")
		c.evictLocked(e)
		exists = false
	}
	if !exists {
		if len(c.entries) >= c.config.Slots {
			return nil, false, fmt.Errorf("%w: %d slots in use", core.ErrCacheFull, len(c.entries))
		}
		e = c.newEntryLocked(key)
	}

	if err := e.add(p); err != nil {
		return nil, false, err
	}
	if f.Header.First && !e.haveFirst {
		e.haveFirst = true
		e.firstSrc = append(core.LinkAddress(nil), f.Source...)
	}
	if e.covered < int(key.size) {
		return nil, false, nil
	}

	c.evictLocked(e)
	if !e.haveFirst {
		return nil, false, fmt.Errorf("%w: datagram %d/%d covered without a first fragment",
			core.ErrMalformedInput, key.size, key.tag)
	}
	return e.assemble(), true, nil
}

// place validates f against its declared size and maps it to a piece.
func (c *Cache) place(f Fragment) (piece, error) {
	h := f.Header
	if h.Size == 0 {
		return piece{}, fmt.Errorf("%w: zero datagram size", core.ErrMalformedInput)
	}
	if len(f.Payload) == 0 {
		return piece{}, fmt.Errorf("%w: empty fragment", core.ErrMalformedInput)
	}
	p := piece{offset: h.ByteOffset(), span: len(f.Payload), first: h.First}
	if h.First && c.config.Sizer != nil {
		compressed, uncompressed, err := c.config.Sizer(f.Payload)
		if err != nil {
			return piece{}, fmt.Errorf("first fragment header: %w", err)
		}
		p.span += uncompressed - compressed
	}
	if p.span <= 0 || p.end() > int(h.Size) {
		return piece{}, fmt.Errorf("%w: fragment [%d,%d) outside datagram of %d bytes",
			core.ErrMalformedInput, p.offset, p.end(), h.Size)
	}
	p.data = make([]byte, len(f.Payload))
	copy(p.data, f.Payload)
	return p, nil
}

func (c *Cache) newEntryLocked(key cacheKey) *entry {
	e := &entry{
		key:    key,
		pieces: btree.NewG[piece](btreeDegree, pieceLess),
	}
	e.timer = c.config.Clock.AfterFunc(c.config.Timeout, func() { c.expire(e) })
	c.entries[key] = e
	metrics.ReassemblyActiveEntries.WithLabelValues(c.config.Name).Inc()
	return e
}

// evictLocked frees e and stops its timer. Must be called with c.mu held.
func (c *Cache) evictLocked(e *entry) {
	if cur, ok := c.entries[e.key]; !ok || cur != e {
		return
	}
	e.timer.Stop()
	delete(c.entries, e.key)
	metrics.ReassemblyActiveEntries.WithLabelValues(c.config.Name).Dec()
}

// expire runs on the timer. An entry that completed or was replaced in
// the meantime is left alone.
func (c *Cache) expire(e *entry) {
	c.mu.Lock()
	if cur, ok := c.entries[e.key]; !ok || cur != e {
		c.mu.Unlock()
		return
	}
	delete(c.entries, e.key)
	covered := e.covered
	c.mu.Unlock()

	metrics.ReassemblyActiveEntries.WithLabelValues(c.config.Name).Dec()
	metrics.ReassemblyTimeoutsTotal.WithLabelValues(c.config.Name).Inc()
	c.logger.WithFields(map[string]interface{}{
		"size": e.key.size, "tag": e.key.tag, "covered": covered,
	}).WithError(core.ErrReassemblyTimeout).Debug("discarding incomplete datagram")
	if c.config.OnTimeout != nil {
		c.config.OnTimeout(e.key.size, e.key.tag)
	}
}

// Len returns the number of in-progress reassemblies.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear frees every entry and stops all timers.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		c.evictLocked(e)
	}
}

// RateLimited returns the fragments rejected by the per-source limiter.
func (c *Cache) RateLimited() int64 {
	if c.rateLimiter == nil {
		return 0
	}
	return c.rateLimiter.Rejected()
}

// resent reports whether first fragment p, received from src, is a
// retransmission of the one e holds: same sender or identical bytes.
func (e *entry) resent(src core.LinkAddress, p piece) bool {
	if bytes.Equal(src, e.firstSrc) {
		return true
	}
	held, ok := e.pieces.Get(piece{offset: 0})
	return ok && held.first && bytes.Equal(held.data, p.data)
}

// errDuplicate marks an exact resend of a range already held.
var errDuplicate = errors.New("duplicate range")

// add inserts p. An exact duplicate (same range, same fragment kind)
// replaces the held data; any other overlap is rejected without touching
// the entry.
func (e *entry) add(p piece) error {
	err := e.check(p)
	switch {
	case errors.Is(err, errDuplicate):
		e.pieces.ReplaceOrInsert(p)
		return nil
	case err != nil:
		return err
	}
	e.pieces.ReplaceOrInsert(p)
	e.covered += p.span
	return nil
}

func (e *entry) check(p piece) error {
	var err error
	e.pieces.DescendLessOrEqual(piece{offset: p.offset}, func(q piece) bool {
		switch {
		case q.offset == p.offset && q.span == p.span && q.first == p.first:
			err = errDuplicate
		case q.end() > p.offset:
			err = fmt.Errorf("%w: [%d,%d) overlaps [%d,%d)", core.ErrOverlap, p.offset, p.end(), q.offset, q.end())
		}
		return false
	})
	if err != nil {
		return err
	}
	e.pieces.AscendRange(piece{offset: p.offset + 1}, piece{offset: p.end()}, func(q piece) bool {
		err = fmt.Errorf("%w: [%d,%d) overlaps [%d,%d)", core.ErrOverlap, p.offset, p.end(), q.offset, q.end())
		return false
	})
	return err
}

// assemble concatenates the pieces in offset order.
func (e *entry) assemble() []byte {
	n := 0
	e.pieces.Ascend(func(q piece) bool {
		n += len(q.data)
		return true
	})
	out := make([]byte, 0, n)
	e.pieces.Ascend(func(q piece) bool {
		out = append(out, q.data...)
		return true
	})
	return out
}
