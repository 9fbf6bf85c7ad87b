package rule

import (
	"encoding/json"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Snapshot is an immutable, evaluation-ordered rule set. Once published it
// is never mutated; a reload builds a new Snapshot.
type Snapshot struct {
	rules    []Rule
	version  string
	loadedAt time.Time
}

// NewSnapshot orders rules by priority (highest first) and declaration
// index (lowest first) and fingerprints the resulting set.
func NewSnapshot(rules []Rule, loadedAt time.Time) *Snapshot {
	sorted := slices.Clone(rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].Index < sorted[j].Index
	})
	return &Snapshot{
		rules:    sorted,
		version:  fingerprint(sorted),
		loadedAt: loadedAt,
	}
}

// EmptySnapshot returns a snapshot with no rules.
func EmptySnapshot() *Snapshot {
	return NewSnapshot(nil, time.Time{})
}

// fingerprint hashes the canonical JSON form of every record in
// evaluation order.
func fingerprint(rules []Rule) string {
	h := xxhash.New()
	for _, r := range rules {
		data, err := json.Marshal(r.Config)
		if err != nil {
			_, _ = h.WriteString(r.ID)
			continue
		}
		_, _ = h.Write(data)
		_, _ = h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Len returns the number of rules.
func (s *Snapshot) Len() int {
	return len(s.rules)
}

// Version returns the fingerprint of the rule set.
func (s *Snapshot) Version() string {
	return s.version
}

// LoadedAt returns when the snapshot was published.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// At returns a pointer to the i-th rule in evaluation order. Callers must
// not modify it.
func (s *Snapshot) At(i int) *Rule {
	return &s.rules[i]
}

// Rules returns a copy of the rules in evaluation order.
func (s *Snapshot) Rules() []Rule {
	return slices.Clone(s.rules)
}

// Find returns the first rule in evaluation order satisfying pred.
func (s *Snapshot) Find(pred func(*Rule) bool) (Rule, bool) {
	for i := range s.rules {
		if pred(&s.rules[i]) {
			return s.rules[i], true
		}
	}
	return Rule{}, false
}

// Get returns the rule with the given ID.
func (s *Snapshot) Get(id string) (Rule, bool) {
	return s.Find(func(r *Rule) bool { return r.ID == id })
}

// Configs returns the source records in declaration order, suitable for
// export and reload.
func (s *Snapshot) Configs() []Config {
	byIndex := slices.Clone(s.rules)
	sort.SliceStable(byIndex, func(i, j int) bool { return byIndex[i].Index < byIndex[j].Index })
	out := make([]Config, 0, len(byIndex))
	for _, r := range byIndex {
		out = append(out, r.Config.Clone())
	}
	return out
}
