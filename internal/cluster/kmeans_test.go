package cluster

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/dianvu/MayaProject/internal/features"
)

// twoGroups builds a cohort with an obvious low-activity and high-activity
// split.
func twoGroups(n int) map[string]features.Vector {
	vectors := make(map[string]features.Vector, n)
	for i := 0; i < n/2; i++ {
		vectors[fmt.Sprintf("low-%02d", i)] = features.Vector{
			2 + float64(i%2), 1, 50 + float64(i), 80, 0.6, 0.2, 20,
		}
	}
	for i := 0; i < n-n/2; i++ {
		vectors[fmt.Sprintf("high-%02d", i)] = features.Vector{
			40 + float64(i%3), 10, 5000 + float64(i*10), 6000, 0.85, 0.7, 120,
		}
	}
	return vectors
}

func TestCluster_DeterministicAcrossRuns(t *testing.T) {
	vectors := twoGroups(10)
	cfg := Config{Seed: 42, K: 2}

	first, err := Cluster(vectors, 2025, time.April, cfg)
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Cluster(vectors, 2025, time.April, cfg)
		if err != nil {
			t.Fatalf("Cluster run %d: %v", i, err)
		}
		if !reflect.DeepEqual(first.Assignments, again.Assignments) {
			t.Fatalf("run %d produced different assignments:\n%v\n%v", i, first.Assignments, again.Assignments)
		}
	}
}

func TestCluster_SeparatesObviousGroups(t *testing.T) {
	vectors := twoGroups(10)
	snap, err := Cluster(vectors, 2025, time.April, Config{Seed: 42, K: 2})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}

	lowLabel := snap.Assignments["low-00"]
	highLabel := snap.Assignments["high-00"]
	if lowLabel == highLabel {
		t.Fatalf("low and high activity users landed in the same cluster")
	}
	for user, label := range snap.Assignments {
		wantLabel := lowLabel
		if user[:4] == "high" {
			wantLabel = highLabel
		}
		if label != wantLabel {
			t.Errorf("user %s assigned cluster %d, want %d", user, label, wantLabel)
		}
	}
}

func TestCluster_SingletonCohort(t *testing.T) {
	vectors := map[string]features.Vector{
		"only": {5, 2, 300, 400, 0.75, 0.4, 60},
	}
	snap, err := Cluster(vectors, 2025, time.April, Config{Seed: 42})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if len(snap.Clusters) != 1 {
		t.Fatalf("singleton cohort produced %d clusters, want 1", len(snap.Clusters))
	}
	stats, ok := snap.For("only")
	if !ok {
		t.Fatal("user missing from snapshot")
	}
	if stats.Size != 1 {
		t.Errorf("cluster size = %d, want 1", stats.Size)
	}
	if stats.Mean[2] != 300 {
		t.Errorf("mean total_spend = %v, want 300 (stats must be in raw feature space)", stats.Mean[2])
	}
}

func TestCluster_SmallCohortCollapsesToSingleCluster(t *testing.T) {
	vectors := map[string]features.Vector{
		"a": {1, 1, 10, 10, 1, 0, 10},
		"b": {90, 9, 9000, 9000, 1, 0.9, 100},
		"c": {50, 5, 5000, 5000, 1, 0.5, 100},
	}
	snap, err := Cluster(vectors, 2025, time.April, Config{Seed: 42, MinClusterSize: 2})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if len(snap.Clusters) != 1 {
		t.Errorf("cohort of 3 with min size 2 produced %d clusters, want 1", len(snap.Clusters))
	}
}

func TestCluster_FixedKLargerThanCohort(t *testing.T) {
	// A policy file can pin k above the cohort size; clamp instead of failing.
	vectors := twoGroups(5)
	snap, err := Cluster(vectors, 2025, time.April, Config{Seed: 42, K: 10})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if len(snap.Clusters) > len(vectors) {
		t.Fatalf("got %d clusters from a cohort of %d", len(snap.Clusters), len(vectors))
	}
	if len(snap.Assignments) != len(vectors) {
		t.Fatalf("got %d assignments, want %d", len(snap.Assignments), len(vectors))
	}
	for user, label := range snap.Assignments {
		if label < 0 || label >= len(snap.Clusters) {
			t.Errorf("user %s assigned out-of-range cluster %d", user, label)
		}
	}
}

func TestCluster_EmptyCohortFails(t *testing.T) {
	_, err := Cluster(nil, 2025, time.April, Config{Seed: 42})
	var cerr *ClusteringError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ClusteringError, got %v", err)
	}
}

func TestCluster_DegenerateFeatureSpaceFails(t *testing.T) {
	vectors := make(map[string]features.Vector)
	for i := 0; i < 8; i++ {
		vectors[fmt.Sprintf("u%d", i)] = features.Vector{3, 1, 100, 100, 1, 0, 33}
	}
	_, err := Cluster(vectors, 2025, time.April, Config{Seed: 42})
	var cerr *ClusteringError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ClusteringError for identical vectors, got %v", err)
	}
}

func TestCluster_SilhouetteFindsTwoGroups(t *testing.T) {
	// K left at 0: silhouette search should land on 2 for two clean groups.
	snap, err := Cluster(twoGroups(12), 2025, time.April, Config{Seed: 42})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if len(snap.Clusters) != 2 {
		t.Errorf("silhouette chose %d clusters, want 2", len(snap.Clusters))
	}
}

func TestStats_PercentileOf(t *testing.T) {
	vectors := map[string]features.Vector{}
	for i := 0; i < 10; i++ {
		// total_spend runs 100, 200, ..., 1000
		vectors[fmt.Sprintf("u%d", i)] = features.Vector{
			float64(i + 1), 1, float64((i + 1) * 100), 500, 0.5, 0.3, 50,
		}
	}
	snap, err := Cluster(vectors, 2025, time.April, Config{Seed: 42, K: 1})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	stats := snap.Clusters[0]

	// 800 sits above 7 of the 10 members (100..700).
	if got := stats.PercentileOf(2, 800); got != 0.7 {
		t.Errorf("PercentileOf(total_spend, 800) = %v, want 0.7", got)
	}
	if got := stats.PercentileOf(2, 50); got != 0 {
		t.Errorf("PercentileOf(total_spend, 50) = %v, want 0", got)
	}
	if got := stats.PercentileOf(2, 5000); got != 1 {
		t.Errorf("PercentileOf(total_spend, 5000) = %v, want 1", got)
	}
}

func TestPercentile_NearestRank(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	tests := []struct {
		level int
		want  float64
	}{
		{10, 10},
		{25, 10},
		{50, 20},
		{75, 30},
		{90, 40},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.level); got != tt.want {
			t.Errorf("percentile(%d) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
