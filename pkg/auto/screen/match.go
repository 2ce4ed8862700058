package screen

import (
	"math"

	"github.com/zoeyai/imagematch/pkg/vision/planar"
)

// CaptureMeta 截图元信息（缩放和偏移量）
//
// Retina 或 Windows 高 DPI 下截图像素与屏幕坐标不是 1:1，
// 匹配结果需要先反向缩放再加上区域偏移才是屏幕坐标。
type CaptureMeta struct {
	ScaleX  float64
	ScaleY  float64
	OffsetX int
	OffsetY int
}

// BuildCaptureMeta 根据截图尺寸和期望尺寸构建元信息
// region 为 nil 时期望尺寸为屏幕尺寸
func BuildCaptureMeta(region *Region, imgW, imgH, screenW, screenH int) CaptureMeta {
	expectedW, expectedH := screenW, screenH
	offsetX, offsetY := 0, 0
	if region != nil {
		expectedW = region.Width
		expectedH = region.Height
		offsetX = region.X
		offsetY = region.Y
	}

	scaleX := 1.0
	if expectedW > 0 && imgW > 0 {
		scaleX = float64(imgW) / float64(expectedW)
	}
	scaleY := 1.0
	if expectedH > 0 && imgH > 0 {
		scaleY = float64(imgH) / float64(expectedH)
	}

	return CaptureMeta{
		ScaleX:  scaleX,
		ScaleY:  scaleY,
		OffsetX: offsetX,
		OffsetY: offsetY,
	}
}

// AdjustPoint 截图坐标转换为屏幕坐标
func AdjustPoint(p planar.Point, meta CaptureMeta) planar.Point {
	return planar.Point{
		X: scaleCoord(p.X, meta.ScaleX) + meta.OffsetX,
		Y: scaleCoord(p.Y, meta.ScaleY) + meta.OffsetY,
	}
}

// AdjustQuad 调整四个角点
func AdjustQuad(q planar.Quad, meta CaptureMeta) planar.Quad {
	var out planar.Quad
	for i, p := range q {
		out[i] = AdjustPoint(p, meta)
	}
	return out
}

func scaleCoord(value int, scale float64) int {
	if scale <= 0 {
		return value
	}
	return int(math.Round(float64(value) / scale))
}
