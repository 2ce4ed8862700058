// Package vision 提供图像匹配的对外接口
package vision

import (
	"errors"

	"github.com/zoeyai/imagematch/pkg/vision/cv"
	"github.com/zoeyai/imagematch/pkg/vision/planar"
)

// Version 版本号
const Version = "1.0.0"

var (
	// ErrFileNotFound 输入图像文件不存在
	ErrFileNotFound = errors.New("文件不存在")
	// ErrInvalidSimilarity 相似度不在 0.1 - 1.0 之间
	ErrInvalidSimilarity = errors.New("相似度必须在 0.1 - 1.0 之间")
)

// 日志事件分类，与 logger.LogEvent 的 category 对应
const (
	CategoryPerfect    = "PERF"
	CategoryTemplate   = "TMPL"
	CategoryFuzzy      = "FUZZ"
	CategoryIgnoreSize = "SIZE"
)

// Point 整数坐标点
type Point = planar.Point

// Quad 四边形 (左上 -> 右上 -> 右下 -> 左下)
type Quad = planar.Quad

// Location 模板在场景中的位置
type Location = planar.Location

// MatchResult 相关性匹配结果
type MatchResult = cv.MatchResult

// Result 一次匹配调用的完整结果
type Result struct {
	// Matched 匹配结论
	Matched bool `json:"matched"`
	// Score 相关系数，特征点方式为 0
	Score float64 `json:"score,omitempty"`
	// Corners 匹配区域
	Corners *Quad `json:"corners,omitempty"`
	// Pairs 特征对应数量
	Pairs int `json:"pairs,omitempty"`
	// OutputPath 结果图路径
	OutputPath string `json:"output_path,omitempty"`
	// Time 耗时（毫秒）
	Time float64 `json:"time"`
}
