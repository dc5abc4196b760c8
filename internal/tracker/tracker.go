// Package tracker implements the Success/Quality Tracker (C3): per-source,
// per-instance, per-strategy success/failure tallies and quality
// observations, plus the composite ranking functions used by the
// Orchestrator (C10) and the proxy pool (C7).
//
// The in-memory state is a mutex-guarded map per spec.md §5 ("fine-grained
// per-table locking"), generalizing the teacher's single mutex-guarded
// package vars (settings.go's configPathValue, status.go's
// latestReleaseCacheMu) to a per-(type,id) keyed structure. Durable writes
// are delegated to the store's batched queue; this package never blocks on
// I/O while holding its lock.
package tracker

import (
	"sync"

	"github.com/trailres/resolver/internal/breaker"
	"github.com/trailres/resolver/internal/model"
)

// durableWriter is the subset of store.Store the tracker needs; kept as an
// interface so tests can inject a no-op.
type durableWriter interface {
	UpsertStat(statType model.StatType, id string, successDelta, totalDelta int64, qualityDelta float64, sampleDelta int64)
}

type statKey struct {
	Type model.StatType
	ID   string
}

// Tracker holds the in-memory success/quality counters and cooperates with
// a Breaker to reset circuits on success for replicated-instance types.
type Tracker struct {
	store durableWriter
	cb    *breaker.Breaker

	mu    sync.RWMutex
	stats map[statKey]*counters

	cap int
}

type counters struct {
	success, total int64
	sumQuality     float64
	samples        int64
}

const defaultCap = 5000

// New builds a Tracker. cb may be nil if circuit reset on success is not
// needed (e.g. in tests).
func New(store durableWriter, cb *breaker.Breaker) *Tracker {
	return &Tracker{
		store: store,
		cb:    cb,
		stats: make(map[statKey]*counters),
		cap:   defaultCap,
	}
}

// Seed hydrates in-memory state from persisted rows at startup.
func (t *Tracker) Seed(successes []model.SuccessStat, qualities []model.QualityStat) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range successes {
		k := statKey{s.Type, s.ID}
		c := t.stats[k]
		if c == nil {
			c = &counters{}
			t.stats[k] = c
		}
		c.success, c.total = s.Success, s.Total
	}
	for _, q := range qualities {
		k := statKey{q.Type, q.ID}
		c := t.stats[k]
		if c == nil {
			c = &counters{}
			t.stats[k] = c
		}
		c.sumQuality, c.samples = q.SumQuality, q.Samples
	}
}

// RecordSuccess increments the success/total counters for (type,id) and, for
// a replicated-instance type, resets the matching circuit (spec.md §4.3).
func (t *Tracker) RecordSuccess(statType model.StatType, id string) {
	t.bump(statType, id, 1, 1)
	if t.store != nil {
		t.store.UpsertStat(statType, id, 1, 1, 0, 0)
	}
	if t.cb != nil && isReplicatedInstanceType(statType) {
		t.cb.RecordSuccess(string(statType), id)
	}
}

// RecordFailure increments only the total counter and, for a
// replicated-instance type, records the failure against the matching
// circuit so it can trip after enough consecutive failures (spec.md §4.4).
func (t *Tracker) RecordFailure(statType model.StatType, id string) {
	t.bump(statType, id, 0, 1)
	if t.store != nil {
		t.store.UpsertStat(statType, id, 0, 1, 0, 0)
	}
	if t.cb != nil && isReplicatedInstanceType(statType) {
		t.cb.RecordFailure(string(statType), id)
	}
}

// RecordQuality folds an observed quality label into the running mean.
func (t *Tracker) RecordQuality(statType model.StatType, id string, qualityScore float64) {
	t.mu.Lock()
	k := statKey{statType, id}
	c := t.stats[k]
	if c == nil {
		c = &counters{}
		t.stats[k] = c
	}
	c.sumQuality += qualityScore
	c.samples++
	t.mu.Unlock()

	if t.store != nil {
		t.store.UpsertStat(statType, id, 0, 0, qualityScore, 1)
	}
}

func (t *Tracker) bump(statType model.StatType, id string, successDelta, totalDelta int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := statKey{statType, id}
	c := t.stats[k]
	if c == nil {
		if len(t.stats) >= t.cap {
			t.evictOneLocked()
		}
		c = &counters{}
		t.stats[k] = c
	}
	c.success += successDelta
	c.total += totalDelta
}

// evictOneLocked drops one row once the cap would be exceeded: a row with no
// recorded attempts if there is one, otherwise the row with the lowest
// total. The cap counts the rows of all stat types together; it is not
// applied per type.
func (t *Tracker) evictOneLocked() {
	for k, c := range t.stats {
		if c.total == 0 {
			delete(t.stats, k)
			return
		}
	}
	var victim statKey
	var victimTotal int64 = -1
	for k, c := range t.stats {
		if victimTotal == -1 || c.total < victimTotal {
			victim, victimTotal = k, c.total
		}
	}
	if victimTotal != -1 {
		delete(t.stats, victim)
	}
}

// Sizes returns the current in-memory row count per stat type, for the
// health endpoint (spec.md §6: "per-tracker sizes").
func (t *Tracker) Sizes() map[model.StatType]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[model.StatType]int)
	for k := range t.stats {
		out[k.Type]++
	}
	return out
}

// Rate returns the learned success rate for (type,id), defaulting to 0.5.
func (t *Tracker) Rate(statType model.StatType, id string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c := t.stats[statKey{statType, id}]
	if c == nil || c.total == 0 {
		return 0.5
	}
	return float64(c.success) / float64(c.total)
}

// AvgQuality returns the running-mean quality score, defaulting to the
// "unknown" tier 1.5.
func (t *Tracker) AvgQuality(statType model.StatType, id string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c := t.stats[statKey{statType, id}]
	if c == nil || c.samples == 0 {
		return 1.5
	}
	return c.sumQuality / float64(c.samples)
}

// SortBySuccessRate filters ids through the circuit breaker (for
// replicated-instance types) and sorts the rest by success rate descending,
// ties broken by original (insertion) order.
func (t *Tracker) SortBySuccessRate(statType model.StatType, ids []string) []string {
	available := make([]string, 0, len(ids))
	for _, id := range ids {
		if t.cb != nil && isReplicatedInstanceType(statType) && !t.cb.IsAvailable(string(statType), id) {
			continue
		}
		available = append(available, id)
	}

	rates := make(map[string]float64, len(available))
	for _, id := range available {
		rates[id] = t.Rate(statType, id)
	}
	// stable sort preserves insertion order for ties
	sortStableDesc(available, rates)
	return available
}

func sortStableDesc(ids []string, rates map[string]float64) {
	// simple stable insertion sort: N is small (proxy/instance counts),
	// and stability is required for the tie-break-by-insertion-order rule.
	for i := 1; i < len(ids); i++ {
		j := i
		for j > 0 && rates[ids[j-1]] < rates[ids[j]] {
			ids[j-1], ids[j] = ids[j], ids[j-1]
			j--
		}
	}
}

// SourceScore is the composite source-level ranking score (spec.md §4.3):
// success_rate + priority_bonus + 0.15*avg_quality.
type SourceScore struct {
	Name  string
	Score float64
}

// priorityBonus implements "ytdlp > apple/itunes > archive".
func priorityBonus(source string) float64 {
	switch source {
	case "ytdlp":
		return 0.3
	case "apple", "itunes", "appletrailers":
		return 0.2
	case "archive":
		return 0.1
	default:
		return 0
	}
}

// GetSortedSources ranks candidate source names by the composite score,
// descending, ties broken by insertion order.
func (t *Tracker) GetSortedSources(sources []string) []SourceScore {
	out := make([]SourceScore, 0, len(sources))
	for _, s := range sources {
		rate := t.Rate(model.StatSources, s)
		quality := t.AvgQuality(model.StatSources, s)
		score := rate + priorityBonus(s) + 0.15*quality
		out = append(out, SourceScore{Name: s, Score: score})
	}
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].Score < out[j].Score {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

func isReplicatedInstanceType(t model.StatType) bool {
	switch t {
	case model.StatProxy, model.StatPiped, model.StatInvidious:
		return true
	default:
		return false
	}
}
