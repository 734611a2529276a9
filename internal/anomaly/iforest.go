package anomaly

import (
	"math"
	"math/rand"
	"sort"
)

const eulerGamma = 0.5772156649015329

type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int
}

func (n *isoNode) leaf() bool { return n.left == nil }

// isolationForest 隔离森林，数据为行优先的特征矩阵
type isolationForest struct {
	trees      []*isoNode
	sampleSize int
}

func fitForest(data [][]float64, trees, sampleSize int, seed int64) *isolationForest {
	rng := rand.New(rand.NewSource(seed))
	n := len(data)
	if sampleSize > n {
		sampleSize = n
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))

	f := &isolationForest{sampleSize: sampleSize, trees: make([]*isoNode, trees)}
	for t := 0; t < trees; t++ {
		idx := rng.Perm(n)[:sampleSize]
		f.trees[t] = growTree(rng, data, idx, 0, maxDepth)
	}
	return f
}

func growTree(rng *rand.Rand, data [][]float64, idx []int, depth, maxDepth int) *isoNode {
	if depth >= maxDepth || len(idx) <= 1 {
		return &isoNode{size: len(idx)}
	}

	// 只在样本内仍有取值范围的特征上切分
	var candidates []int
	for feat := range data[idx[0]] {
		lo, hi := featureRange(data, idx, feat)
		if hi > lo {
			candidates = append(candidates, feat)
		}
	}
	if len(candidates) == 0 {
		return &isoNode{size: len(idx)}
	}

	feat := candidates[rng.Intn(len(candidates))]
	lo, hi := featureRange(data, idx, feat)
	split := lo + rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range idx {
		if data[i][feat] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &isoNode{
		feature: feat,
		split:   split,
		size:    len(idx),
		left:    growTree(rng, data, left, depth+1, maxDepth),
		right:   growTree(rng, data, right, depth+1, maxDepth),
	}
}

func featureRange(data [][]float64, idx []int, feat int) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range idx {
		v := data[i][feat]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func pathLength(node *isoNode, x []float64, depth int) float64 {
	for !node.leaf() {
		if x[node.feature] < node.split {
			node = node.left
		} else {
			node = node.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(node.size)
}

// averagePathLength 二叉搜索树中不成功查找的平均路径长度 c(n)
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// anomalyScore 返回 2^(-E[h]/c(ψ))，越接近 1 越异常
func (f *isolationForest) anomalyScore(x []float64) float64 {
	var total float64
	for _, t := range f.trees {
		total += pathLength(t, x, 0)
	}
	mean := total / float64(len(f.trees))
	c := averagePathLength(f.sampleSize)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -mean/c)
}

// scoreOutliers 对每行打分并返回最异常的 k 行。分数取负值，越低越异常。
func scoreOutliers(data [][]float64, trees, sampleSize int, seed int64, contamination float64) []MultivariateOutlier {
	n := len(data)
	forest := fitForest(data, trees, sampleSize, seed)

	scored := make([]MultivariateOutlier, n)
	for i, x := range data {
		scored[i] = MultivariateOutlier{Row: i, Score: -forest.anomalyScore(x)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score < scored[j].Score })

	k := int(math.Ceil(contamination * float64(n)))
	if k > n {
		k = n
	}
	return scored[:k]
}
