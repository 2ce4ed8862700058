package cv

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/zoeyai/imagematch/pkg/vision/planar"
)

// HomographySolver 基于 OpenCV findHomography (RANSAC) 的估计器
type HomographySolver struct {
	MaxIters   int
	Confidence float64
}

// NewHomographySolver 创建默认参数的估计器
func NewHomographySolver() HomographySolver {
	return HomographySolver{
		MaxIters:   2000,
		Confidence: 0.995,
	}
}

// Estimate 实现 planar.Solver
func (s HomographySolver) Estimate(src, dst []planar.PointF, reprojThreshold float64) (planar.Homography, error) {
	if len(src) != len(dst) {
		return planar.Homography{}, fmt.Errorf("%w: %d vs %d", planar.ErrPointCountMismatch, len(src), len(dst))
	}
	if len(src) < planar.MinPairs {
		return planar.Homography{}, fmt.Errorf("%w: 实际 %d", planar.ErrInsufficientPoints, len(src))
	}

	srcMat := pointsToMat(src)
	dstMat := pointsToMat(dst)
	defer srcMat.Close()
	defer dstMat.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	H := gocv.FindHomography(srcMat, dstMat, gocv.HomographyMethodRANSAC, reprojThreshold, &mask, s.MaxIters, s.Confidence)
	defer H.Close()

	if H.Empty() || H.Rows() != 3 || H.Cols() != 3 {
		return planar.Homography{}, planar.ErrDegenerate
	}
	if inliers := countInliers(mask); inliers < planar.MinPairs {
		return planar.Homography{}, fmt.Errorf("%w: 内点 %d", planar.ErrDegenerate, inliers)
	}

	var h planar.Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r][c] = H.GetDoubleAt(r, c)
		}
	}
	return h, nil
}

func pointsToMat(pts []planar.PointF) gocv.Mat {
	m := gocv.NewMatWithSize(len(pts), 1, gocv.MatTypeCV32FC2)
	for i, p := range pts {
		m.SetFloatAt(i, 0, float32(p.X))
		m.SetFloatAt(i, 1, float32(p.Y))
	}
	return m
}

func countInliers(mask gocv.Mat) int {
	if mask.Empty() {
		return 0
	}
	inliers := 0
	for i := 0; i < mask.Rows(); i++ {
		if mask.GetUCharAt(i, 0) > 0 {
			inliers++
		}
	}
	return inliers
}
