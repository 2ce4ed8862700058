package cv

import (
	"github.com/zoeyai/imagematch/pkg/vision/planar"
)

// MatchResult 相关性匹配结果
type MatchResult struct {
	// Result 匹配区域中心点
	Result planar.Point `json:"result"`
	// Rectangle 匹配区域四个角点 (左上 -> 右上 -> 右下 -> 左下)
	Rectangle planar.Quad `json:"rectangle"`
	// Confidence 相关系数最大值
	Confidence float64 `json:"confidence"`
	// Time 匹配耗时（毫秒）
	Time float64 `json:"time,omitempty"`
}

// ImageSizeError 模板尺寸大于场景
type ImageSizeError struct {
	SourceSize [2]int
	SearchSize [2]int
}

func (e *ImageSizeError) Error() string {
	return "搜索图像尺寸大于源图像"
}
