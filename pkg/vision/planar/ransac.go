package planar

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// 与 OpenCV checkSubset 相同的共线判定精度
const collinearEps = 1.1920929e-07

// RANSACSolver 纯 Go 实现的 RANSAC 单应性估计器
//
// 固定随机种子，相同输入总是得到相同结果。
type RANSACSolver struct {
	MaxIters   int
	Confidence float64
	Seed       int64
}

// NewRANSACSolver 创建默认参数的估计器
func NewRANSACSolver() RANSACSolver {
	return RANSACSolver{
		MaxIters:   2000,
		Confidence: 0.995,
		Seed:       1,
	}
}

// Estimate 估计把 src 映射到 dst 的单应性矩阵
func (s RANSACSolver) Estimate(src, dst []PointF, reprojThreshold float64) (Homography, error) {
	if len(src) != len(dst) {
		return Homography{}, fmt.Errorf("%w: %d vs %d", ErrPointCountMismatch, len(src), len(dst))
	}
	n := len(src)
	if n < MinPairs {
		return Homography{}, fmt.Errorf("%w: 需要至少 %d 个, 实际 %d", ErrInsufficientPoints, MinPairs, n)
	}

	tSrc, ok := normalization(src)
	if !ok {
		return Homography{}, ErrDegenerate
	}
	tDst, ok := normalization(dst)
	if !ok {
		return Homography{}, ErrDegenerate
	}
	tDstInv := invertNormalization(tDst)
	nSrc := applyAll(tSrc, src)
	nDst := applyAll(tDst, dst)

	maxIters := s.MaxIters
	if maxIters <= 0 {
		maxIters = 2000
	}
	confidence := s.Confidence
	if confidence <= 0 || confidence >= 1 {
		confidence = 0.995
	}
	rng := rand.New(rand.NewSource(s.Seed))
	thr2 := reprojThreshold * reprojThreshold

	var best Homography
	var bestInliers []int
	sample := make([]int, MinPairs)

	for iter := 0; iter < maxIters; iter++ {
		if n == MinPairs {
			copy(sample, []int{0, 1, 2, 3})
		} else {
			copy(sample, rng.Perm(n)[:MinPairs])
		}
		if collinearSubset(src, sample) || collinearSubset(dst, sample) {
			if n == MinPairs {
				break
			}
			continue
		}

		hn, err := solveDLT(nSrc, nDst, sample)
		if err != nil {
			continue
		}
		h := denormalize(hn, tSrc, tDstInv)

		inliers := countInliers(h, src, dst, thr2)
		if len(inliers) > len(bestInliers) {
			best = h
			bestInliers = inliers
			maxIters = min(maxIters, updateIters(confidence, float64(len(inliers))/float64(n), maxIters))
		}
		if n == MinPairs {
			break
		}
	}

	if len(bestInliers) < MinPairs {
		return Homography{}, ErrDegenerate
	}

	// 用全部内点做最小二乘精修
	refined, err := solveDLT(nSrc, nDst, bestInliers)
	if err != nil {
		return best, nil
	}
	return denormalize(refined, tSrc, tDstInv), nil
}

// updateIters 按当前内点率更新所需迭代次数
func updateIters(confidence, inlierRate float64, maxIters int) int {
	if inlierRate >= 1 {
		return 0
	}
	num := math.Log(1 - confidence)
	denom := math.Log(1 - math.Pow(inlierRate, MinPairs))
	if denom >= 0 || -num >= float64(maxIters)*(-denom) {
		return maxIters
	}
	return int(math.Ceil(num / denom))
}

func countInliers(h Homography, src, dst []PointF, thr2 float64) []int {
	var inliers []int
	for i := range src {
		x, y, ok := h.Project(src[i].X, src[i].Y)
		if !ok {
			continue
		}
		dx, dy := x-dst[i].X, y-dst[i].Y
		if dx*dx+dy*dy <= thr2 {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// collinearSubset 样本中任意三点共线即视为退化
func collinearSubset(pts []PointF, idx []int) bool {
	for i := 0; i < len(idx); i++ {
		for j := i + 1; j < len(idx); j++ {
			for k := j + 1; k < len(idx); k++ {
				a, b, c := pts[idx[i]], pts[idx[j]], pts[idx[k]]
				dx1, dy1 := b.X-a.X, b.Y-a.Y
				dx2, dy2 := c.X-a.X, c.Y-a.Y
				if math.Abs(dx2*dy1-dy2*dx1) <= collinearEps*(math.Abs(dx1)+math.Abs(dy1)+math.Abs(dx2)+math.Abs(dy2)) {
					return true
				}
			}
		}
	}
	return false
}

// solveDLT 固定 h22 = 1 求解，4 个点用 LU，更多点用 QR 最小二乘
func solveDLT(src, dst []PointF, idx []int) (Homography, error) {
	rows := 2 * len(idx)
	A := mat.NewDense(rows, 8, nil)
	B := mat.NewVecDense(rows, nil)

	for r, i := range idx {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y

		A.SetRow(2*r, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		B.SetVec(2*r, u)
		A.SetRow(2*r+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		B.SetVec(2*r+1, v)
	}

	var params mat.VecDense
	if rows == 8 {
		if err := params.SolveVec(A, B); err != nil {
			return Homography{}, err
		}
	} else {
		var qr mat.QR
		qr.Factorize(A)
		if err := qr.SolveVecTo(&params, false, B); err != nil {
			return Homography{}, err
		}
	}

	return Homography{
		{params.AtVec(0), params.AtVec(1), params.AtVec(2)},
		{params.AtVec(3), params.AtVec(4), params.AtVec(5)},
		{params.AtVec(6), params.AtVec(7), 1},
	}, nil
}

// normalization 计算把点集移到原点、平均距离为 sqrt(2) 的变换
func normalization(pts []PointF) (Homography, bool) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(pts))
	cy /= float64(len(pts))

	var d float64
	for _, p := range pts {
		d += math.Hypot(p.X-cx, p.Y-cy)
	}
	d /= float64(len(pts))
	if d == 0 {
		return Homography{}, false
	}

	s := math.Sqrt2 / d
	return Homography{
		{s, 0, -s * cx},
		{0, s, -s * cy},
		{0, 0, 1},
	}, true
}

func invertNormalization(t Homography) Homography {
	s := t[0][0]
	return Homography{
		{1 / s, 0, -t[0][2] / s},
		{0, 1 / s, -t[1][2] / s},
		{0, 0, 1},
	}
}

func applyAll(t Homography, pts []PointF) []PointF {
	out := make([]PointF, len(pts))
	for i, p := range pts {
		out[i] = PointF{
			X: t[0][0]*p.X + t[0][2],
			Y: t[1][1]*p.Y + t[1][2],
		}
	}
	return out
}

// denormalize 还原到像素坐标: H = Tdst^-1 * Hn * Tsrc，并令 h22 = 1
func denormalize(hn, tSrc, tDstInv Homography) Homography {
	h := mul3(tDstInv, mul3(hn, tSrc))
	if h[2][2] != 0 {
		inv := 1 / h[2][2]
		for r := range h {
			for c := range h[r] {
				h[r][c] *= inv
			}
		}
	}
	return h
}

func mul3(a, b Homography) Homography {
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = a[r][0]*b[0][c] + a[r][1]*b[1][c] + a[r][2]*b[2][c]
		}
	}
	return out
}
