package predict

import (
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Feature order used for every model input vector.
var featureNames = []string{"vibration_x", "vibration_y", "temperature", "pressure", "rpm"}

const (
	anomalyHistoryCap = 200
	anomalyMinFit     = 20
	anomalyMinStats   = 10
	zScoreThreshold   = 3.5
)

// AnomalyDetails explains how a detection decision was reached.
type AnomalyDetails struct {
	Method    string             `json:"method"`
	Threshold float64            `json:"threshold,omitempty"`
	ZScores   map[string]float64 `json:"sensor_z_scores,omitempty"`
}

// AnomalyDetector scores sensor samples for one machine. It keeps a
// bounded history of feature vectors and refits an isolation forest on
// every sample once enough history exists; before that it falls back to
// a per-feature z-score test.
type AnomalyDetector struct {
	mu            sync.Mutex
	history       [][]float64
	contamination float64
	forest        *isolationForest
}

func NewAnomalyDetector() *AnomalyDetector {
	return &AnomalyDetector{contamination: 0.05}
}

func extractFeatures(sensors map[string]float64) []float64 {
	v := make([]float64, len(featureNames))
	for i, name := range featureNames {
		v[i] = sensors[name]
	}
	return v
}

// Detect classifies a sample and records it for future fits.
// Returns (isAnomaly, score, details); score is in z-score units below
// the fit threshold and in inverted forest units above it.
func (d *AnomalyDetector) Detect(sensors map[string]float64) (bool, float64, AnomalyDetails) {
	d.mu.Lock()
	defer d.mu.Unlock()

	features := extractFeatures(sensors)

	d.history = append(d.history, features)
	if len(d.history) > anomalyHistoryCap {
		d.history = d.history[1:]
	}

	if len(d.history) >= anomalyMinFit {
		d.forest = fitIsolationForest(standardize(d.history), d.contamination)
	}

	if d.forest == nil {
		return d.detectStatistical(features)
	}

	mean, std := columnStats(d.history)
	scaled := make([]float64, len(features))
	for i := range features {
		scaled[i] = (features[i] - mean[i]) / std[i]
	}

	score := d.forest.score(scaled)
	return score > d.forest.threshold, score, AnomalyDetails{Method: "isolation_forest"}
}

// detectStatistical is the z-score fallback used until the forest fits.
func (d *AnomalyDetector) detectStatistical(features []float64) (bool, float64, AnomalyDetails) {
	if len(d.history) < anomalyMinStats {
		return false, 0, AnomalyDetails{Method: "insufficient_data"}
	}

	mean, std := columnStats(d.history)
	zScores := map[string]float64{}
	maxZ := 0.0
	for i, name := range featureNames {
		z := math.Abs((features[i] - mean[i]) / std[i])
		zScores[name] = z
		if z > maxZ {
			maxZ = z
		}
	}

	return maxZ > zScoreThreshold, maxZ, AnomalyDetails{
		Method:    "z_score",
		Threshold: zScoreThreshold,
		ZScores:   zScores,
	}
}

// HealthScore maps the detector output to a 0-100 health value.
func (d *AnomalyDetector) HealthScore(sensors map[string]float64) float64 {
	_, score, details := d.Detect(sensors)
	var health float64
	if details.Method == "z_score" || details.Method == "insufficient_data" {
		health = 100 - (score/3.0)*100
	} else {
		health = 100 - math.Abs(score)*10
	}
	return clamp(health, 0, 100)
}

func columnStats(rows [][]float64) (mean, std []float64) {
	cols := len(rows[0])
	mean = make([]float64, cols)
	std = make([]float64, cols)
	for _, row := range rows {
		for i, v := range row {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(rows))
	}
	for _, row := range rows {
		for i, v := range row {
			diff := v - mean[i]
			std[i] += diff * diff
		}
	}
	for i := range std {
		// epsilon keeps constant features from dividing by zero
		std[i] = math.Sqrt(std[i]/float64(len(rows))) + 1e-6
	}
	return mean, std
}

func standardize(rows [][]float64) [][]float64 {
	mean, std := columnStats(rows)
	out := make([][]float64, len(rows))
	for r, row := range rows {
		scaled := make([]float64, len(row))
		for i, v := range row {
			scaled[i] = (v - mean[i]) / std[i]
		}
		out[r] = scaled
	}
	return out
}

// isolationForest is a small outlier ensemble. Scores are the usual
// 2^(-E[h]/c(n)) path-length statistic shifted so that higher means more
// anomalous and 0 sits at the decision midpoint.
type isolationForest struct {
	trees     []*isoNode
	subsample int
	threshold float64
}

type isoNode struct {
	splitDim   int
	splitValue float64
	left       *isoNode
	right      *isoNode
	size       int
}

const (
	forestTrees     = 100
	forestSubsample = 64
)

func fitIsolationForest(rows [][]float64, contamination float64) *isolationForest {
	// fixed seed: refits must be deterministic for replay and tests
	rng := rand.New(rand.NewSource(42))

	n := len(rows)
	sub := forestSubsample
	if sub > n {
		sub = n
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sub))))

	f := &isolationForest{subsample: sub}
	for t := 0; t < forestTrees; t++ {
		sample := make([][]float64, sub)
		for i := range sample {
			sample[i] = rows[rng.Intn(n)]
		}
		f.trees = append(f.trees, buildIsoTree(sample, 0, maxDepth, rng))
	}

	// threshold at the contamination quantile of the training scores
	scores := make([]float64, n)
	for i, row := range rows {
		scores[i] = f.score(row)
	}
	sort.Float64s(scores)
	idx := int(float64(n) * (1 - contamination))
	if idx >= n {
		idx = n - 1
	}
	f.threshold = scores[idx]
	return f
}

func buildIsoTree(rows [][]float64, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if len(rows) <= 1 || depth >= maxDepth {
		return &isoNode{size: len(rows)}
	}

	dim := rng.Intn(len(rows[0]))
	lo, hi := rows[0][dim], rows[0][dim]
	for _, row := range rows {
		if row[dim] < lo {
			lo = row[dim]
		}
		if row[dim] > hi {
			hi = row[dim]
		}
	}
	if hi == lo {
		return &isoNode{size: len(rows)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, row := range rows {
		if row[dim] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &isoNode{
		splitDim:   dim,
		splitValue: split,
		left:       buildIsoTree(left, depth+1, maxDepth, rng),
		right:      buildIsoTree(right, depth+1, maxDepth, rng),
	}
}

func (f *isolationForest) score(row []float64) float64 {
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, row, 0)
	}
	avg := total / float64(len(f.trees))
	s := math.Pow(2, -avg/avgPathLength(float64(f.subsample)))
	return s - 0.5
}

func pathLength(node *isoNode, row []float64, depth float64) float64 {
	if node.left == nil {
		if node.size > 1 {
			return depth + avgPathLength(float64(node.size))
		}
		return depth
	}
	if row[node.splitDim] < node.splitValue {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful
// BST search over n points.
func avgPathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
