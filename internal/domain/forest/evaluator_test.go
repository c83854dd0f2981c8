package forest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stoik/fraud-shield/internal/domain"
)

func leaf(v float64) *domain.ForestTree {
	return &domain.ForestTree{IsLeaf: true, LeafValue: v}
}

func TestScore_SingleTreeTraversal(t *testing.T) {
	tree := &domain.ForestTree{
		Feature:   "digit_ratio",
		Threshold: 0.5,
		Left:      leaf(0.1),
		Right:     leaf(0.9),
	}
	rf := &domain.RandomForest{Meta: domain.ForestMeta{MaxDepth: 10}, Forest: []*domain.ForestTree{tree}}

	e := New()
	low := e.Score(rf, domain.FeatureVector{"digit_ratio": 0.1}, nil)
	high := e.Score(rf, domain.FeatureVector{"digit_ratio": 0.9}, nil)
	assert.Equal(t, 0.1, low)
	assert.Equal(t, 0.9, high)
}

func TestScore_MissingFeatureTreatedAsZero(t *testing.T) {
	tree := &domain.ForestTree{
		Feature:   "some_feature",
		Threshold: 0.0,
		Left:      leaf(0.2),
		Right:     leaf(0.8),
	}
	rf := &domain.RandomForest{Meta: domain.ForestMeta{MaxDepth: 10}, Forest: []*domain.ForestTree{tree}}

	e := New()
	warned := false
	score := e.Score(rf, domain.FeatureVector{}, func(f string) { warned = true })
	assert.Equal(t, 0.2, score) // 0 <= 0 -> left
	assert.True(t, warned)

	warned = false
	_ = e.Score(rf, domain.FeatureVector{}, func(f string) { warned = true })
	assert.False(t, warned, "second call for same feature must not re-warn")
}

func TestScore_MeanAcrossTrees(t *testing.T) {
	rf := &domain.RandomForest{
		Meta: domain.ForestMeta{MaxDepth: 10},
		Forest: []*domain.ForestTree{
			leaf(0.0),
			leaf(1.0),
		},
	}
	e := New()
	score := e.Score(rf, domain.FeatureVector{}, nil)
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestScore_DepthCapTerminates(t *testing.T) {
	// Build a cyclic-looking chain is impossible (trees are acyclic) but a
	// very deep skewed tree should still terminate within the hard cap.
	var root *domain.ForestTree
	cur := leaf(0.42)
	for i := 0; i < hardDepthCap+20; i++ {
		n := &domain.ForestTree{Feature: "x", Threshold: -1, Left: cur, Right: cur}
		cur = n
	}
	root = cur
	rf := &domain.RandomForest{Meta: domain.ForestMeta{MaxDepth: 0}, Forest: []*domain.ForestTree{root}}

	e := New()
	score := e.Score(rf, domain.FeatureVector{"x": 5}, nil) // 5 > -1 -> always goes right
	// The cap stops traversal at an internal node 20 levels above the 0.42
	// leaf; an internal node carries no leaf value, so the tree scores 0.
	assert.Equal(t, 0.0, score)
}

func TestCalibrate_RejectsNonPositiveCoef(t *testing.T) {
	cal := &domain.Calibration{Intercept: 0, Coef: -1}
	score, used := Calibrate(0.9, cal)
	assert.False(t, used)
	assert.Equal(t, 0.9, score)
}

func TestCalibrate_Sigmoid(t *testing.T) {
	cal := &domain.Calibration{Intercept: 0, Coef: 1}
	score, used := Calibrate(0, cal)
	assert.True(t, used)
	assert.InDelta(t, 0.5, score, 1e-9)
}
