// Package domain contains the core types of the ranking engine: item sets,
// weight vectors, rankings, batches of rankings, rank distances and the
// posterior summaries produced by a rank-aggregation fitter.
// The package is pure: it performs no I/O and holds no global state.
package domain

import (
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"
	"golang.org/x/text/cases"
)

// labelFolder folds item labels for duplicate detection so that labels that
// differ only by case are treated as the same item.
var labelFolder = cases.Fold()

// ItemSet is an ordered sequence of N distinct item labels, N >= 1.
// It is immutable once constructed and index-aligned with WeightVector.
type ItemSet struct {
	labels []string
}

// NewItemSet creates an ItemSet from the given labels.
// It returns ErrInvalidItems when no labels are given, a label is empty,
// or two labels are equal after case folding.
func NewItemSet(labels ...string) (ItemSet, error) {
	if len(labels) == 0 {
		return ItemSet{}, fmt.Errorf("%w: item set must contain at least one label", ErrInvalidItems)
	}
	seen := make(map[string]int, len(labels))
	for i, label := range labels {
		if label == "" {
			return ItemSet{}, fmt.Errorf("%w: empty label at index %d", ErrInvalidItems, i)
		}
		key := labelFolder.String(label)
		if prev, ok := seen[key]; ok {
			return ItemSet{}, fmt.Errorf("%w: label %q at index %d duplicates index %d",
				ErrInvalidItems, label, i, prev)
		}
		seen[key] = i
	}
	return ItemSet{labels: slices.Clone(labels)}, nil
}

// IndexedItemSet creates an ItemSet labelled "item_1" .. "item_n".
func IndexedItemSet(n int) (ItemSet, error) {
	return NewItemSet(lo.Times(n, func(i int) string { return fmt.Sprintf("item_%d", i+1) })...)
}

// Len returns the number of items.
func (s ItemSet) Len() int { return len(s.labels) }

// Label returns the label of the item at index i.
func (s ItemSet) Label(i int) string { return s.labels[i] }

// Labels returns a copy of the item labels in index order.
func (s ItemSet) Labels() []string { return slices.Clone(s.labels) }

// IndexOf returns the index of the item with the given label, matching
// case-insensitively, or -1 if no such item exists.
func (s ItemSet) IndexOf(label string) int {
	key := labelFolder.String(label)
	return slices.IndexFunc(s.labels, func(l string) bool { return labelFolder.String(l) == key })
}

// LabelsOf maps a ranking of indices to the corresponding labels.
func (s ItemSet) LabelsOf(r Ranking) []string {
	return lo.Map(r, func(idx int, _ int) string { return s.labels[idx] })
}

// WeightVector holds one non-negative weight per item, index-aligned with
// an ItemSet. Weights need not sum to one; samplers normalize internally.
type WeightVector []float64

// Validate reports whether the vector can be sampled from. It returns
// ErrInvalidWeights for an empty vector, a negative, NaN or infinite entry,
// or a vector whose entries are all zero.
func (w WeightVector) Validate() error {
	if len(w) == 0 {
		return fmt.Errorf("%w: weight vector is empty", ErrInvalidWeights)
	}
	positive := false
	for i, v := range w {
		switch {
		case math.IsNaN(v) || math.IsInf(v, 0):
			return fmt.Errorf("%w: non-finite weight at index %d: %v", ErrInvalidWeights, i, v)
		case v < 0:
			return fmt.Errorf("%w: negative weight at index %d: %v", ErrInvalidWeights, i, v)
		case v > 0:
			positive = true
		}
	}
	if !positive {
		return fmt.Errorf("%w: all %d weights are zero", ErrInvalidWeights, len(w))
	}
	return nil
}

// Clone returns a private working copy of the vector.
func (w WeightVector) Clone() WeightVector { return slices.Clone(w) }

// Consensus returns the ranking implied by the weights: items ordered by
// descending weight, ties broken by lower index.
func (w WeightVector) Consensus() Ranking {
	order := lo.Range(len(w))
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case w[a] > w[b]:
			return -1
		case w[a] < w[b]:
			return 1
		default:
			return 0
		}
	})
	return order
}

// GeometricWeights returns n weights decaying geometrically from 1:
// w[i] = decay^i. A decay in (0, 1) yields a strictly decreasing profile.
func GeometricWeights(n int, decay float64) WeightVector {
	return lo.Times(n, func(i int) float64 { return math.Pow(decay, float64(i)) })
}

// Ranking is a permutation of the index set {0, ..., N-1} listing items from
// most to least preferred: r[0] is the index of the top item.
type Ranking []int

// IsPermutation reports whether r is a permutation of {0, ..., n-1}.
func (r Ranking) IsPermutation(n int) bool { return r.Validate(n) == nil }

// Validate returns ErrInvalidRanking unless r is a permutation of {0, ..., n-1}.
func (r Ranking) Validate(n int) error {
	if len(r) != n {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidRanking, len(r), n)
	}
	seen := make([]bool, n)
	for pos, idx := range r {
		if idx < 0 || idx >= n {
			return fmt.Errorf("%w: index %d at position %d out of range [0,%d)", ErrInvalidRanking, idx, pos, n)
		}
		if seen[idx] {
			return fmt.Errorf("%w: index %d repeated at position %d", ErrInvalidRanking, idx, pos)
		}
		seen[idx] = true
	}
	return nil
}

// Ranks re-expresses the ranking as a rank per item: the returned slice
// holds, for each item index, its 1-based position in r.
func (r Ranking) Ranks() []int {
	ranks := make([]int, len(r))
	for pos, idx := range r {
		ranks[idx] = pos + 1
	}
	return ranks
}

// Clone returns a copy of the ranking.
func (r Ranking) Clone() Ranking { return slices.Clone(r) }

// FromRanks converts a rank-per-item vector (1-based) back into a Ranking.
func FromRanks(ranks []int) (Ranking, error) {
	n := len(ranks)
	r := make(Ranking, n)
	filled := make([]bool, n)
	for item, rank := range ranks {
		if rank < 1 || rank > n {
			return nil, fmt.Errorf("%w: rank %d for item %d out of range [1,%d]", ErrInvalidRanking, rank, item, n)
		}
		if filled[rank-1] {
			return nil, fmt.Errorf("%w: rank %d assigned twice", ErrInvalidRanking, rank)
		}
		filled[rank-1] = true
		r[rank-1] = item
	}
	return r, nil
}

// RankingBatch is an ordered sequence of M rankings over a fixed ItemSet, one
// per synthetic assessor. Rows are stored as fixed-width records in a single
// pre-sized buffer; insertion order is preserved. A batch is sealed by its
// producer and rejects further appends afterwards.
type RankingBatch struct {
	items  ItemSet
	cells  []int
	sealed bool
}

// NewRankingBatch creates an empty batch over items with room for capacity rows.
func NewRankingBatch(items ItemSet, capacity int) *RankingBatch {
	return &RankingBatch{
		items: items,
		cells: make([]int, 0, max(capacity, 0)*items.Len()),
	}
}

// Append validates r against the batch width and appends it as a new row.
func (b *RankingBatch) Append(r Ranking) error {
	if b.sealed {
		return ErrBatchSealed
	}
	if err := r.Validate(b.Width()); err != nil {
		return fmt.Errorf("row %d: %w", b.Len(), err)
	}
	b.cells = append(b.cells, r...)
	return nil
}

// Seal marks the batch as complete.
func (b *RankingBatch) Seal() { b.sealed = true }

// Sealed reports whether the batch has been sealed.
func (b *RankingBatch) Sealed() bool { return b.sealed }

// Items returns the item set the batch ranks.
func (b *RankingBatch) Items() ItemSet { return b.items }

// Width returns the number of items per row (N).
func (b *RankingBatch) Width() int { return b.items.Len() }

// Len returns the number of rows (M).
func (b *RankingBatch) Len() int {
	if b.Width() == 0 {
		return 0
	}
	return len(b.cells) / b.Width()
}

// Row returns a copy of the i-th ranking.
func (b *RankingBatch) Row(i int) Ranking {
	n := b.Width()
	return slices.Clone(Ranking(b.cells[i*n : (i+1)*n]))
}

// Rows returns copies of all rankings in insertion order.
func (b *RankingBatch) Rows() []Ranking {
	return lo.Times(b.Len(), b.Row)
}

// RankMatrix returns the batch as an M×N table in which cell [a][i] holds the
// 1-based rank that assessor a assigned to item i.
func (b *RankingBatch) RankMatrix() [][]int {
	return lo.Times(b.Len(), func(i int) []int { return b.Row(i).Ranks() })
}
