// kmer.go - K-mer-basierte Aehnlichkeitsmetrik fuer Sequenz-Batches
// Enthält: MinHash-Sketch ueber kanonische k-mere und Batch-Vergleich

// Package metrics provides sequence-level evaluation metrics for generated
// samples. The k-mer metric estimates the Jaccard similarity between the
// k-mer sets of a generated batch and a reference batch using bottom-n
// MinHash sketches, averaged over several k-mer sizes.
package metrics

import (
	"container/heap"
	"fmt"
	"hash/fnv"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

const (
	defaultNumHashes = 20000
)

// defaultKSizes are the k-mer sizes the average similarity is taken over:
// short motifs, motif-scale windows and near-read-length windows.
var defaultKSizes = []int{3, 7, 20}

// MinHash is a bottom-n sketch of the canonical k-mers of one or more
// sequences. Two sketches built with the same n and k estimate the Jaccard
// similarity of their underlying k-mer sets.
type MinHash struct {
	n int
	k int

	seen   map[uint64]struct{}
	sketch maxHeap // the n smallest distinct hashes, max on top
}

// NewMinHash creates a sketch keeping the n smallest distinct hashes of
// k-mers of size k.
func NewMinHash(n, k int) (*MinHash, error) {
	if n <= 0 || k <= 0 {
		return nil, fmt.Errorf("metrics: minhash needs positive n and k, got n=%d k=%d", n, k)
	}
	return &MinHash{
		n:    n,
		k:    k,
		seen: make(map[uint64]struct{}),
	}, nil
}

// AddSequence folds every canonical k-mer of seq into the sketch. Sequences
// shorter than k are rejected; k-mers containing bases outside ACGT are
// skipped.
func (m *MinHash) AddSequence(seq string) error {
	if len(seq) < m.k {
		return fmt.Errorf("metrics: sequence of length %d is shorter than k=%d", len(seq), m.k)
	}
	for i := 0; i+m.k <= len(seq); i++ {
		kmer := seq[i : i+m.k]
		canon, ok := canonicalKmer(kmer)
		if !ok {
			continue
		}
		m.add(hashKmer(canon))
	}
	return nil
}

func (m *MinHash) add(h uint64) {
	if _, ok := m.seen[h]; ok {
		return
	}
	if m.sketch.Len() < m.n {
		m.seen[h] = struct{}{}
		heap.Push(&m.sketch, h)
		return
	}
	if top := m.sketch[0]; h < top {
		delete(m.seen, top)
		m.seen[h] = struct{}{}
		m.sketch[0] = h
		heap.Fix(&m.sketch, 0)
	}
}

// Similarity estimates the Jaccard similarity between the k-mer sets behind
// the two sketches. Both sketches must have been built with the same n and k.
// Two empty sketches have similarity zero.
func (m *MinHash) Similarity(other *MinHash) (float64, error) {
	if other == nil {
		return 0, fmt.Errorf("metrics: cannot compare against a nil sketch")
	}
	if m.n != other.n || m.k != other.k {
		return 0, fmt.Errorf("metrics: sketch parameters differ: (n=%d, k=%d) vs (n=%d, k=%d)",
			m.n, m.k, other.n, other.k)
	}

	// Bottom-n of the union, then count how many of those both sets share.
	union := make(map[uint64]struct{}, len(m.seen)+len(other.seen))
	for h := range m.seen {
		union[h] = struct{}{}
	}
	for h := range other.seen {
		union[h] = struct{}{}
	}
	if len(union) == 0 {
		return 0, nil
	}

	var bottom maxHeap
	for h := range union {
		if bottom.Len() < m.n {
			heap.Push(&bottom, h)
		} else if h < bottom[0] {
			bottom[0] = h
			heap.Fix(&bottom, 0)
		}
	}

	var common int
	for _, h := range bottom {
		_, inA := m.seen[h]
		_, inB := other.seen[h]
		if inA && inB {
			common++
		}
	}
	return float64(common) / float64(bottom.Len()), nil
}

// Config controls AverageSimilarity. Zero values take the defaults: 20000
// hashes over k sizes 3, 7 and 20.
type Config struct {
	NumHashes int
	KSizes    []int
}

// CompareSequenceSets sketches both sequence batches with (n, k) and returns
// the estimated Jaccard similarity between their k-mer sets.
func CompareSequenceSets(a, b []string, k, n int) (float64, error) {
	sketchA, err := NewMinHash(n, k)
	if err != nil {
		return 0, err
	}
	sketchB, err := NewMinHash(n, k)
	if err != nil {
		return 0, err
	}
	for _, seq := range a {
		if err := sketchA.AddSequence(seq); err != nil {
			return 0, err
		}
	}
	for _, seq := range b {
		if err := sketchB.AddSequence(seq); err != nil {
			return 0, err
		}
	}
	return sketchA.Similarity(sketchB)
}

// AverageSimilarity compares two sequence batches at every configured k-mer
// size concurrently and returns the mean similarity.
func AverageSimilarity(a, b []string, cfg Config) (float64, error) {
	n := cfg.NumHashes
	if n == 0 {
		n = defaultNumHashes
	}
	ks := cfg.KSizes
	if len(ks) == 0 {
		ks = defaultKSizes
	}

	sims := make([]float64, len(ks))
	var group errgroup.Group
	for i, k := range ks {
		group.Go(func() error {
			sim, err := CompareSequenceSets(a, b, k, n)
			if err != nil {
				return err
			}
			slog.Debug("k-mer batch similarity", "k", k, "n", n, "similarity", sim)
			sims[i] = sim
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}
	return stat.Mean(sims, nil), nil
}

// canonicalKmer returns the lexicographically smaller of kmer and its reverse
// complement, normalized to upper case. ok is false when the k-mer contains a
// base outside ACGT.
func canonicalKmer(kmer string) (string, bool) {
	fwd := make([]byte, len(kmer))
	rev := make([]byte, len(kmer))
	for i := 0; i < len(kmer); i++ {
		base := upperBase(kmer[i])
		comp, ok := complement(base)
		if !ok {
			return "", false
		}
		fwd[i] = base
		rev[len(kmer)-1-i] = comp
	}
	if string(rev) < string(fwd) {
		return string(rev), true
	}
	return string(fwd), true
}

func upperBase(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

func complement(base byte) (byte, bool) {
	switch base {
	case 'A':
		return 'T', true
	case 'C':
		return 'G', true
	case 'G':
		return 'C', true
	case 'T':
		return 'A', true
	default:
		return 0, false
	}
}

func hashKmer(kmer string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(kmer))
	return h.Sum64()
}

// maxHeap is a max-heap of hashes, used to keep the n smallest seen so far.
type maxHeap []uint64

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i] > h[j] }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(uint64)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
