// Package forest traverses a serialized random forest to produce a fraud
// probability, and applies Platt calibration on top of it (§4.3).
package forest

import (
	"math"
	"sync"

	"github.com/stoik/fraud-shield/internal/domain"
)

const hardDepthCap = 50

// missingFeatureWarner logs (via the field below) only the first time a
// given feature name is found missing from a vector being scored, to avoid
// flooding logs on a model trained against a feature the extractor no
// longer always populates.
type missingFeatureWarner struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newMissingFeatureWarner() *missingFeatureWarner {
	return &missingFeatureWarner{seen: map[string]struct{}{}}
}

// warnOnce returns true the first time name is passed in, false thereafter.
func (w *missingFeatureWarner) warnOnce(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen[name]; ok {
		return false
	}
	w.seen[name] = struct{}{}
	return true
}

// Evaluator wraps a RandomForest artifact with the shared missing-feature
// warning state, so repeated Score calls against the same loaded forest
// don't re-log the same missing feature.
type Evaluator struct {
	warner *missingFeatureWarner
}

// New constructs an Evaluator. One Evaluator should be reused across calls
// against the same forest snapshot.
func New() *Evaluator {
	return &Evaluator{warner: newMissingFeatureWarner()}
}

// MissingFeatureFunc is invoked the first time a tree references a feature
// absent from the vector being scored, so callers can route it to their
// logger. Pass nil to disable.
type MissingFeatureFunc func(feature string)

// Score traverses every tree in the forest and returns the mean leaf
// probability (§4.3). Missing features are treated as 0, consistent with
// scikit-learn's default missing-value handling for this representation.
func (e *Evaluator) Score(rf *domain.RandomForest, fv domain.FeatureVector, onMissing MissingFeatureFunc) float64 {
	if rf == nil || len(rf.Forest) == 0 {
		return 0
	}
	depthCap := rf.Meta.MaxDepth
	if depthCap <= 0 || depthCap > hardDepthCap {
		depthCap = hardDepthCap
	}

	var total float64
	for _, tree := range rf.Forest {
		total += e.traverse(tree, fv, depthCap, onMissing)
	}
	return total / float64(len(rf.Forest))
}

func (e *Evaluator) traverse(node *domain.ForestTree, fv domain.FeatureVector, depthRemaining int, onMissing MissingFeatureFunc) float64 {
	for node != nil && !node.IsLeaf && depthRemaining > 0 {
		v, ok := fv.Get(node.Feature)
		if !ok {
			if e.warner.warnOnce(node.Feature) && onMissing != nil {
				onMissing(node.Feature)
			}
			v = 0
		}
		if v <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
		depthRemaining--
	}
	if node == nil {
		return 0
	}
	return node.LeafValue
}

// Sigmoid is the logistic function used by Platt calibration.
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// Calibrate applies sigmoid(intercept + coef*score) if cal is valid
// (coef > 0); returns (score, false) unchanged and uncalibrated otherwise
// (§4.3, §7 calibration_invalid).
func Calibrate(score float64, cal *domain.Calibration) (float64, bool) {
	if !cal.Valid() {
		return score, false
	}
	return Sigmoid(cal.Intercept + cal.Coef*score), true
}
