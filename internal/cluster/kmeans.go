package cluster

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/dianvu/MayaProject/internal/features"
)

// ClusteringError indicates the cohort cannot be clustered: no vectors at
// all, or a feature space with no variance to separate on.
type ClusteringError struct {
	Reason string
}

func (e *ClusteringError) Error() string {
	return fmt.Sprintf("clustering: %s", e.Reason)
}

// Percentiles reported for each feature of a cluster.
var percentileLevels = []int{10, 25, 50, 75, 90}

// Stats are the aggregate statistics of one peer cluster, in raw (un-scaled)
// feature space, used as comparison context in generated text.
type Stats struct {
	Label int
	Size  int
	// Mean is the per-feature mean over cluster members.
	Mean []float64
	// Percentiles maps a level (10, 25, 50, 75, 90) to per-feature values.
	Percentiles map[int][]float64

	// sorted member values per feature, for percentile-rank queries
	sorted [][]float64
}

// PercentileOf returns the fraction of cluster members whose value for the
// feature is strictly below v, in [0, 1].
func (s *Stats) PercentileOf(feature int, v float64) float64 {
	if feature < 0 || feature >= len(s.sorted) || len(s.sorted[feature]) == 0 {
		return 0
	}
	vals := s.sorted[feature]
	below := sort.SearchFloat64s(vals, v)
	return float64(below) / float64(len(vals))
}

// Config controls a clustering run.
type Config struct {
	// Seed pins the random source so a run is reproducible.
	Seed int64 `yaml:"seed"`
	// K fixes the number of clusters; 0 selects k by silhouette score.
	K int `yaml:"k"`
	// MaxK caps the silhouette search; default 10.
	MaxK int `yaml:"max_k"`
	// MinClusterSize is the smallest cohort worth partitioning. A cohort
	// below twice this size collapses to a single cluster.
	MinClusterSize int `yaml:"min_cluster_size"`
	// MaxIterations bounds centroid iteration; default 100.
	MaxIterations int `yaml:"max_iterations"`
}

func (c Config) withDefaults() Config {
	if c.MaxK == 0 {
		c.MaxK = 10
	}
	if c.MinClusterSize == 0 {
		c.MinClusterSize = 2
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 100
	}
	return c
}

// Snapshot is the immutable result of one clustering run over a cohort. A new
// run supersedes the prior snapshot for the period; nothing is updated
// incrementally. Safe for concurrent readers.
type Snapshot struct {
	Year          int
	Month         time.Month
	SchemaVersion string
	Seed          int64
	Assignments   map[string]int
	Clusters      []*Stats
}

// For returns the stats of the cluster the user was assigned to.
func (s *Snapshot) For(userID string) (*Stats, bool) {
	label, ok := s.Assignments[userID]
	if !ok {
		return nil, false
	}
	return s.Clusters[label], true
}

// Cluster partitions the cohort's feature vectors into peer groups. Identical
// inputs and seed reproduce identical assignments; this is load-bearing,
// since cluster stats shape report wording.
func Cluster(vectors map[string]features.Vector, year int, month time.Month, cfg Config) (*Snapshot, error) {
	cfg = cfg.withDefaults()
	if len(vectors) == 0 {
		return nil, &ClusteringError{Reason: "empty cohort"}
	}

	// Sort users so map iteration order cannot change the outcome.
	users := make([]string, 0, len(vectors))
	for u := range vectors {
		users = append(users, u)
	}
	sort.Strings(users)

	dim := len(vectors[users[0]])
	raw := make([][]float64, len(users))
	for i, u := range users {
		if len(vectors[u]) != dim {
			return nil, &ClusteringError{Reason: fmt.Sprintf("vector for %s has %d features, want %d", u, len(vectors[u]), dim)}
		}
		raw[i] = vectors[u]
	}

	// Degenerate cohort: too small to split into meaningful peer groups.
	if len(users) < 2*cfg.MinClusterSize {
		return singleClusterSnapshot(users, raw, year, month, cfg.Seed), nil
	}

	scaled, anyVariance := standardize(raw)
	if !anyVariance {
		return nil, &ClusteringError{Reason: "degenerate feature space: all cohort vectors are identical"}
	}

	k := cfg.K
	if k <= 0 {
		k = chooseK(scaled, cfg)
	}
	// A fixed k cannot exceed the cohort: there are only n distinct points to
	// seed centroids from.
	if k > len(users) {
		k = len(users)
	}
	if k < 2 {
		return singleClusterSnapshot(users, raw, year, month, cfg.Seed), nil
	}

	labels := kmeans(scaled, k, cfg.Seed, cfg.MaxIterations)
	return buildSnapshot(users, raw, labels, k, year, month, cfg.Seed), nil
}

// standardize z-scores each feature column. Zero-variance columns stay zero.
// Returns whether any column had variance at all.
func standardize(raw [][]float64) ([][]float64, bool) {
	n, dim := len(raw), len(raw[0])
	mean := make([]float64, dim)
	std := make([]float64, dim)
	for _, v := range raw {
		for j, f := range v {
			mean[j] += f
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	for _, v := range raw {
		for j, f := range v {
			d := f - mean[j]
			std[j] += d * d
		}
	}
	anyVariance := false
	for j := range std {
		std[j] = math.Sqrt(std[j] / float64(n))
		if std[j] > 0 {
			anyVariance = true
		}
	}

	out := make([][]float64, n)
	for i, v := range raw {
		out[i] = make([]float64, dim)
		for j, f := range v {
			if std[j] > 0 {
				out[i][j] = (f - mean[j]) / std[j]
			}
		}
	}
	return out, anyVariance
}

// chooseK picks k by the best silhouette score over 2..min(MaxK, n-1).
func chooseK(scaled [][]float64, cfg Config) int {
	maxK := cfg.MaxK
	if maxK > len(scaled)-1 {
		maxK = len(scaled) - 1
	}
	bestK, bestScore := 1, math.Inf(-1)
	for k := 2; k <= maxK; k++ {
		labels := kmeans(scaled, k, cfg.Seed, cfg.MaxIterations)
		score := silhouette(scaled, labels, k)
		if score > bestScore {
			bestScore, bestK = score, k
		}
	}
	return bestK
}

// kmeans runs centroid iteration with a pinned random source for initial
// centroid choice. Labels are returned per point.
func kmeans(points [][]float64, k int, seed int64, maxIter int) []int {
	n, dim := len(points), len(points[0])
	rng := rand.New(rand.NewSource(seed))

	// Initial centroids: k distinct points chosen by the seeded source.
	perm := rng.Perm(n)
	centroids := make([][]float64, k)
	for i := 0; i < k; i++ {
		centroids[i] = append([]float64(nil), points[perm[i]]...)
	}

	labels := make([]int, n)
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				d := sqDist(p, centroid)
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			counts[labels[i]]++
			for j, f := range p {
				sums[labels[i]][j] += f
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Empty cluster: reseed it with the point farthest from its
				// current centroid assignment.
				far, farDist := 0, -1.0
				for i, p := range points {
					if d := sqDist(p, centroids[labels[i]]); d > farDist {
						far, farDist = i, d
					}
				}
				labels[far] = c
				centroids[c] = append([]float64(nil), points[far]...)
				changed = true
				continue
			}
			for j := range centroids[c] {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}

		if !changed && iter > 0 {
			break
		}
	}
	return labels
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// silhouette is the mean silhouette coefficient over all points.
func silhouette(points [][]float64, labels []int, k int) float64 {
	var total float64
	counted := 0
	for i := range points {
		var intra, intraN float64
		inter := make([]float64, k)
		interN := make([]float64, k)
		for j := range points {
			if i == j {
				continue
			}
			d := math.Sqrt(sqDist(points[i], points[j]))
			if labels[j] == labels[i] {
				intra += d
				intraN++
			} else {
				inter[labels[j]] += d
				interN[labels[j]]++
			}
		}
		if intraN == 0 {
			continue
		}
		a := intra / intraN
		b := math.Inf(1)
		for c := 0; c < k; c++ {
			if c == labels[i] || interN[c] == 0 {
				continue
			}
			if avg := inter[c] / interN[c]; avg < b {
				b = avg
			}
		}
		if math.IsInf(b, 1) {
			continue
		}
		total += (b - a) / math.Max(a, b)
		counted++
	}
	if counted == 0 {
		return -1
	}
	return total / float64(counted)
}

func singleClusterSnapshot(users []string, raw [][]float64, year int, month time.Month, seed int64) *Snapshot {
	labels := make([]int, len(users))
	return buildSnapshot(users, raw, labels, 1, year, month, seed)
}

func buildSnapshot(users []string, raw [][]float64, labels []int, k int, year int, month time.Month, seed int64) *Snapshot {
	dim := len(raw[0])
	snap := &Snapshot{
		Year:          year,
		Month:         month,
		SchemaVersion: features.SchemaVersion,
		Seed:          seed,
		Assignments:   make(map[string]int, len(users)),
		Clusters:      make([]*Stats, k),
	}

	members := make([][][]float64, k)
	for i, u := range users {
		snap.Assignments[u] = labels[i]
		members[labels[i]] = append(members[labels[i]], raw[i])
	}

	for c := 0; c < k; c++ {
		stats := &Stats{
			Label:       c,
			Size:        len(members[c]),
			Mean:        make([]float64, dim),
			Percentiles: make(map[int][]float64, len(percentileLevels)),
			sorted:      make([][]float64, dim),
		}
		for j := 0; j < dim; j++ {
			vals := make([]float64, 0, len(members[c]))
			for _, m := range members[c] {
				vals = append(vals, m[j])
				stats.Mean[j] += m[j]
			}
			if len(vals) > 0 {
				stats.Mean[j] /= float64(len(vals))
			}
			sort.Float64s(vals)
			stats.sorted[j] = vals
		}
		for _, lvl := range percentileLevels {
			row := make([]float64, dim)
			for j := 0; j < dim; j++ {
				row[j] = percentile(stats.sorted[j], lvl)
			}
			stats.Percentiles[lvl] = row
		}
		snap.Clusters[c] = stats
	}
	return snap
}

// percentile uses the nearest-rank method on pre-sorted values.
func percentile(sorted []float64, level int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(float64(level)/100*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
