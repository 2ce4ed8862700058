// Package planar 根据特征对应关系定位平面模板
package planar

import (
	"errors"
	"math"
)

var (
	// ErrInsufficientPoints 点对少于 4 个，无法估计单应性矩阵
	ErrInsufficientPoints = errors.New("点对数量不足")
	// ErrPointCountMismatch 源点与目标点数量不一致
	ErrPointCountMismatch = errors.New("源点与目标点数量不一致")
	// ErrDegenerate 点的分布退化 (例如全部共线)，无法得到变换
	ErrDegenerate = errors.New("点分布退化，无法估计单应性矩阵")
)

// Point 整数坐标点
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PointF 浮点坐标点
type PointF struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad 四边形，顺序固定为 左上 -> 右上 -> 右下 -> 左下
type Quad [4]Point

// RectQuad 返回 w x h 矩形的四个角点
func RectQuad(w, h int) Quad {
	return Quad{
		{X: 0, Y: 0},
		{X: w, Y: 0},
		{X: w, Y: h},
		{X: 0, Y: h},
	}
}

// TopLeft 左上角
func (q Quad) TopLeft() Point { return q[0] }

// TopRight 右上角
func (q Quad) TopRight() Point { return q[1] }

// BottomRight 右下角
func (q Quad) BottomRight() Point { return q[2] }

// BottomLeft 左下角
func (q Quad) BottomLeft() Point { return q[3] }

// Center 对角线中点
func (q Quad) Center() Point {
	return Point{
		X: (q[0].X + q[2].X) / 2,
		Y: (q[0].Y + q[2].Y) / 2,
	}
}

// Homography 3x3 投影变换矩阵
type Homography [3][3]float64

// Identity 单位矩阵
func Identity() Homography {
	return Homography{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
}

// Project 对点 (x, y) 做投影变换
//
// x' 与 y' 都由原始的 (x, y) 计算。w 为 0 或结果非有限值时 ok 为 false。
func (h Homography) Project(x, y float64) (px, py float64, ok bool) {
	w := h[2][0]*x + h[2][1]*y + h[2][2]
	if w == 0 {
		return 0, 0, false
	}
	px = (h[0][0]*x + h[0][1]*y + h[0][2]) / w
	py = (h[1][0]*x + h[1][1]*y + h[1][2]) / w
	if math.IsNaN(px) || math.IsNaN(py) || math.IsInf(px, 0) || math.IsInf(py, 0) {
		return 0, 0, false
	}
	return px, py, true
}

// ProjectQuad 投影四个角点，坐标向零截断
func (h Homography) ProjectQuad(src Quad) (Quad, bool) {
	var dst Quad
	for i, p := range src {
		x, y, ok := h.Project(float64(p.X), float64(p.Y))
		if !ok {
			return Quad{}, false
		}
		dst[i] = Point{X: int(x), Y: int(y)}
	}
	return dst, true
}
