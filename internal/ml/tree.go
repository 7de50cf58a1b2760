package ml

import (
	"fmt"
	"sort"
)

// TreeConfig bounds decision tree growth. The tree is an explainer, not the
// primary classifier, so it stays shallow on purpose.
type TreeConfig struct {
	MaxDepth       int
	MinSamplesLeaf int
}

// TreeNode is one node of a fitted CART tree. The struct serializes to JSON
// as the persisted artifact representation.
type TreeNode struct {
	Leaf      bool      `json:"leaf"`
	Feature   int       `json:"feature,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      *TreeNode `json:"left,omitempty"`
	Right     *TreeNode `json:"right,omitempty"`
	Class     int       `json:"class"`
	Prob      float64   `json:"prob"`
	Samples   int       `json:"samples"`
}

// TrainTree grows a binary CART tree with weighted Gini impurity. Class
// weights are balanced the same way as the logistic fit.
func TrainTree(x [][]float64, y []int, cfg TreeConfig) *TreeNode {
	if len(x) == 0 {
		return &TreeNode{Leaf: true}
	}
	pos := 0
	for _, label := range y {
		if label == 1 {
			pos++
		}
	}
	neg := len(y) - pos
	wPos, wNeg := 1.0, 1.0
	if pos > 0 && neg > 0 {
		wPos = float64(len(y)) / float64(2*pos)
		wNeg = float64(len(y)) / float64(2*neg)
	}
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	return growTree(x, y, idx, 0, cfg, wPos, wNeg)
}

func growTree(x [][]float64, y []int, idx []int, depth int, cfg TreeConfig, wPos, wNeg float64) *TreeNode {
	node := leafFor(y, idx, wPos, wNeg)
	if depth >= cfg.MaxDepth || len(idx) < 2*cfg.MinSamplesLeaf || pure(y, idx) {
		return node
	}

	feature, threshold, ok := bestSplit(x, y, idx, cfg.MinSamplesLeaf, wPos, wNeg)
	if !ok {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	node.Leaf = false
	node.Feature = feature
	node.Threshold = threshold
	node.Left = growTree(x, y, left, depth+1, cfg, wPos, wNeg)
	node.Right = growTree(x, y, right, depth+1, cfg, wPos, wNeg)
	return node
}

func leafFor(y []int, idx []int, wPos, wNeg float64) *TreeNode {
	var posW, negW float64
	for _, i := range idx {
		if y[i] == 1 {
			posW += wPos
		} else {
			negW += wNeg
		}
	}
	class := 0
	if posW > negW {
		class = 1
	}
	prob := 0.0
	if posW+negW > 0 {
		prob = posW / (posW + negW)
	}
	return &TreeNode{Leaf: true, Class: class, Prob: prob, Samples: len(idx)}
}

func pure(y []int, idx []int) bool {
	if len(idx) == 0 {
		return true
	}
	first := y[idx[0]]
	for _, i := range idx[1:] {
		if y[i] != first {
			return false
		}
	}
	return true
}

// bestSplit scans every feature for the threshold minimizing weighted Gini
// impurity while honoring the minimum leaf size on both sides. Candidate
// thresholds are midpoints between consecutive distinct values.
func bestSplit(x [][]float64, y []int, idx []int, minLeaf int, wPos, wNeg float64) (int, float64, bool) {
	bestFeature := -1
	bestThreshold := 0.0
	bestGini := giniOf(y, idx, wPos, wNeg)
	found := false

	cols := len(x[idx[0]])
	order := make([]int, len(idx))
	for feature := 0; feature < cols; feature++ {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return x[order[a]][feature] < x[order[b]][feature] })

		var leftPos, leftNeg float64
		totalPos, totalNeg := 0.0, 0.0
		for _, i := range order {
			if y[i] == 1 {
				totalPos += wPos
			} else {
				totalNeg += wNeg
			}
		}

		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			if y[i] == 1 {
				leftPos += wPos
			} else {
				leftNeg += wNeg
			}
			cur, next := x[i][feature], x[order[k+1]][feature]
			if cur == next {
				continue
			}
			if k+1 < minLeaf || len(order)-(k+1) < minLeaf {
				continue
			}
			leftW := leftPos + leftNeg
			rightW := (totalPos - leftPos) + (totalNeg - leftNeg)
			g := (leftW*gini(leftPos, leftNeg) + rightW*gini(totalPos-leftPos, totalNeg-leftNeg)) / (leftW + rightW)
			if g < bestGini-1e-12 {
				bestGini = g
				bestFeature = feature
				bestThreshold = (cur + next) / 2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

func gini(posW, negW float64) float64 {
	total := posW + negW
	if total == 0 {
		return 0
	}
	p := posW / total
	q := negW / total
	return 1 - p*p - q*q
}

func giniOf(y []int, idx []int, wPos, wNeg float64) float64 {
	var posW, negW float64
	for _, i := range idx {
		if y[i] == 1 {
			posW += wPos
		} else {
			negW += wNeg
		}
	}
	return gini(posW, negW)
}

// Predict walks the tree and returns the leaf class and probability.
func (n *TreeNode) Predict(row []float64) (int, float64) {
	node := n
	for node != nil && !node.Leaf {
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	if node == nil {
		return 0, 0
	}
	return node.Class, node.Prob
}

// PathConditions renders the comparisons along the decision path for one
// row, at most limit entries. Thresholds below one keep two decimals, the
// rest round to integers, matching how the conditions read for counts.
func (n *TreeNode) PathConditions(row []float64, names []string, limit int) []string {
	var out []string
	node := n
	for node != nil && !node.Leaf && len(out) < limit {
		name := fmt.Sprintf("feature_%d", node.Feature)
		if node.Feature < len(names) {
			name = names[node.Feature]
		}
		format := "%s > %s"
		if row[node.Feature] <= node.Threshold {
			format = "%s <= %s"
		}
		threshold := fmt.Sprintf("%.0f", node.Threshold)
		if node.Threshold > 0 && node.Threshold < 1 {
			threshold = fmt.Sprintf("%.2f", node.Threshold)
		}
		out = append(out, fmt.Sprintf(format, name, threshold))
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return out
}
