// Package aggregate maintains the live, deduplicated view of normalized
// markets across sources and derives cross-source comparison records.
package aggregate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phenomenon0/epl-edge/pkg/feed"
	"github.com/phenomenon0/epl-edge/pkg/metrics"
	"github.com/phenomenon0/epl-edge/pkg/sports"
)

// ChangeKind distinguishes change notifications.
type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangeEvict  ChangeKind = "evict"
)

// Change is a notification that the live table changed.
type Change struct {
	Kind   ChangeKind
	Market sports.NormalizedMarket
}

// entryKey identifies one record in the table.
type entryKey struct {
	source feed.SourceID
	match  string
}

type entry struct {
	market   sports.NormalizedMarket
	lastSeen time.Time // refreshed on every ingest, identical or not
}

// Config holds aggregator tuning.
type Config struct {
	// StalenessWindow is how long an entry survives without its source
	// re-reporting it.
	StalenessWindow time.Duration
	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration
	// SubscriberBuffer sizes each subscriber's change channel. Slow
	// subscribers drop notifications rather than block ingestion.
	SubscriberBuffer int
}

// DefaultConfig returns sensible defaults for a live dashboard session.
func DefaultConfig() Config {
	return Config{
		StalenessWindow:  15 * time.Minute,
		SweepInterval:    30 * time.Second,
		SubscriberBuffer: 64,
	}
}

// Aggregator keeps the best-known state per (source, match key) with
// last-write-wins merge by arrival order. Ingest and Snapshot are safe to
// call concurrently; Snapshot observes a consistent point-in-time copy.
type Aggregator struct {
	mu      sync.RWMutex
	entries map[entryKey]*entry
	subs    map[uuid.UUID]chan Change

	config  Config
	log     *zap.Logger
	metrics *metrics.BoardMetrics

	// now is swapped in tests to drive staleness deterministically.
	now func() time.Time
}

// New creates an aggregator. log and m may be nil.
func New(config Config, log *zap.Logger, m *metrics.BoardMetrics) *Aggregator {
	if config.StalenessWindow <= 0 {
		config.StalenessWindow = DefaultConfig().StalenessWindow
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultConfig().SweepInterval
	}
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = DefaultConfig().SubscriberBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		entries: make(map[entryKey]*entry),
		subs:    make(map[uuid.UUID]chan Change),
		config:  config,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// Ingest merges one update into the table. Arrival order wins; embedded
// producer timestamps are ignored. Re-ingesting identical content refreshes
// the staleness clock but changes nothing observable and notifies nobody.
func (a *Aggregator) Ingest(m sports.NormalizedMarket) {
	key := entryKey{source: m.Source, match: m.MatchKey}
	now := a.now()

	a.mu.Lock()
	existing, ok := a.entries[key]
	if ok && existing.market.Same(m) {
		existing.lastSeen = now
		a.mu.Unlock()
		if a.metrics != nil {
			a.metrics.RecordIngest(string(m.Source), false)
		}
		return
	}

	m.LastUpdated = now
	a.entries[key] = &entry{market: m, lastSeen: now}
	count := a.countLocked(m.Source)
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.RecordIngest(string(m.Source), true)
		a.metrics.SetMarketsTracked(string(m.Source), count)
	}
	a.notify(Change{Kind: ChangeUpsert, Market: m})
}

// Snapshot returns a consistent copy of the live table, one record per
// (source, match key), ordered by match key then source for determinism.
func (a *Aggregator) Snapshot() []sports.NormalizedMarket {
	a.mu.RLock()
	out := make([]sports.NormalizedMarket, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.market)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].MatchKey != out[j].MatchKey {
			return out[i].MatchKey < out[j].MatchKey
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// Len returns the number of live entries.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Subscribe registers a change listener. The channel is closed on
// Unsubscribe. Consumers may unsubscribe at any time without corrupting
// aggregator state.
func (a *Aggregator) Subscribe() (uuid.UUID, <-chan Change) {
	id := uuid.New()
	ch := make(chan Change, a.config.SubscriberBuffer)

	a.mu.Lock()
	a.subs[id] = ch
	a.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a change listener and closes its channel.
func (a *Aggregator) Unsubscribe(id uuid.UUID) {
	a.mu.Lock()
	ch, ok := a.subs[id]
	if ok {
		delete(a.subs, id)
	}
	a.mu.Unlock()

	if ok {
		close(ch)
	}
}

// RunSweeper evicts stale entries until ctx is cancelled. Detached
// producers that keep running after consumers disconnect are cleaned up
// here once their entries age out.
func (a *Aggregator) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(a.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep()
		}
	}
}

// Sweep removes every entry whose source has not re-reported it within the
// staleness window. Exported so tests and operators can force a pass.
func (a *Aggregator) Sweep() int {
	cutoff := a.now().Add(-a.config.StalenessWindow)

	a.mu.Lock()
	var evicted []sports.NormalizedMarket
	for key, e := range a.entries {
		if e.lastSeen.Before(cutoff) {
			evicted = append(evicted, e.market)
			delete(a.entries, key)
		}
	}
	counts := make(map[feed.SourceID]int)
	for _, m := range evicted {
		counts[m.Source] = a.countLocked(m.Source)
	}
	a.mu.Unlock()

	for _, m := range evicted {
		if a.metrics != nil {
			a.metrics.RecordEviction(string(m.Source))
		}
		a.log.Info("evicted stale market",
			zap.String("source", string(m.Source)),
			zap.String("match_key", m.MatchKey))
		a.notify(Change{Kind: ChangeEvict, Market: m})
	}
	if a.metrics != nil {
		for src, n := range counts {
			a.metrics.SetMarketsTracked(string(src), n)
		}
	}
	return len(evicted)
}

// countLocked counts live entries for one source. Callers hold mu.
func (a *Aggregator) countLocked(src feed.SourceID) int {
	n := 0
	for key := range a.entries {
		if key.source == src {
			n++
		}
	}
	return n
}

// notify fans a change out to subscribers without blocking. A subscriber
// whose buffer is full misses the notification and must resync from
// Snapshot.
func (a *Aggregator) notify(c Change) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, ch := range a.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
