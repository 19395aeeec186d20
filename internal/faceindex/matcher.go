package faceindex

import (
	"cmp"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/your-org/eventfaces/internal/embedding"
	"github.com/your-org/eventfaces/internal/observability"
)

// DefaultTolerance is the match threshold for unit-normalised embeddings.
const DefaultTolerance = 0.55

// Match is one image that contains a face within tolerance of the probe.
type Match struct {
	ImageID string
	// Distance is the smallest distance among the image's faces.
	Distance float64
	// Faces counts the image's faces within tolerance.
	Faces int
}

type MatcherOption func(*Matcher)

// WithLimit caps the number of ranked results. Zero means no cap.
func WithLimit(n int) MatcherOption {
	return func(m *Matcher) {
		if n > 0 {
			m.limit = n
		}
	}
}

// Matcher compares a probe embedding against an event snapshot by exact
// Euclidean distance.
type Matcher struct {
	tolerance float64
	limit     int
}

func NewMatcher(tolerance float64, opts ...MatcherOption) *Matcher {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	m := &Matcher{tolerance: tolerance}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Matcher) Tolerance() float64 {
	return m.tolerance
}

// Rank returns matching images best first: ascending distance, ties broken
// by ascending image id. An image appears at most once however many of its
// faces match.
func (m *Matcher) Rank(probe embedding.Embedding, snapshot []FaceRef) ([]Match, error) {
	start := time.Now()
	defer func() {
		observability.StageDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())
	}()

	best, err := m.scan(probe, snapshot)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(best))
	for _, mt := range best {
		matches = append(matches, *mt)
	}
	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return strings.Compare(a.ImageID, b.ImageID)
	})

	if m.limit > 0 && len(matches) > m.limit {
		matches = matches[:m.limit]
	}
	return matches, nil
}

// Members returns the set of matching image ids, for callers that only need
// membership.
func (m *Matcher) Members(probe embedding.Embedding, snapshot []FaceRef) (map[string]struct{}, error) {
	best, err := m.scan(probe, snapshot)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(best))
	for id := range best {
		set[id] = struct{}{}
	}
	return set, nil
}

func (m *Matcher) scan(probe embedding.Embedding, snapshot []FaceRef) (map[string]*Match, error) {
	if len(snapshot) == 0 {
		return nil, ErrNoEncodingsAvailable
	}

	best := make(map[string]*Match)
	skipped := 0
	for _, ref := range snapshot {
		d, err := embedding.Distance(probe, ref.Embedding)
		if err != nil {
			skipped++
			continue
		}
		// NaN distances fail this comparison and never match.
		if !(d <= m.tolerance) {
			continue
		}
		if cur, ok := best[ref.ImageID]; ok {
			cur.Faces++
			if d < cur.Distance {
				cur.Distance = d
			}
			continue
		}
		best[ref.ImageID] = &Match{ImageID: ref.ImageID, Distance: d, Faces: 1}
	}

	if skipped > 0 {
		slog.Warn("skipped embeddings with mismatched dimension",
			"skipped", skipped, "probe_dim", len(probe))
	}
	return best, nil
}
