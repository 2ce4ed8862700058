package cv

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/zoeyai/imagematch/internal/logger"
	"github.com/zoeyai/imagematch/pkg/vision/feature"
	"github.com/zoeyai/imagematch/pkg/vision/planar"
)

// KeypointParams 特征点定位参数
type KeypointParams struct {
	ResponseThreshold float64
	MaxFeatures       int
	Ratio             float64
	Workers           int
	ReprojThreshold   float64
	// Solver 为空时使用 OpenCV RANSAC
	Solver planar.Solver
}

// DefaultKeypointParams 默认参数
func DefaultKeypointParams() KeypointParams {
	return KeypointParams{
		Ratio:           feature.DefaultRatio,
		Workers:         1,
		ReprojThreshold: planar.DefaultReprojThreshold,
	}
}

// KeypointResult 特征点定位结果
type KeypointResult struct {
	// Template 模板特征
	Template feature.Set
	// Scene 场景特征
	Scene feature.Set
	// Source 模板自身的四个角点
	Source planar.Quad
	// Location 为 nil 表示未找到
	Location *planar.Location
	// Time 耗时（毫秒）
	Time float64
}

// Found 是否找到模板
func (r *KeypointResult) Found() bool {
	return r != nil && r.Location != nil
}

// KeypointMatching 特征点平面定位
type KeypointMatching struct {
	imSearch  gocv.Mat
	imSource  gocv.Mat
	extractor FeatureExtractor
	locator   planar.Locator
}

// NewKeypointMatching 创建定位器，search 为模板，source 为场景
func NewKeypointMatching(search, source gocv.Mat, params KeypointParams) *KeypointMatching {
	solver := params.Solver
	if solver == nil {
		solver = NewHomographySolver()
	}
	return &KeypointMatching{
		imSearch:  search,
		imSource:  source,
		extractor: NewSIFTExtractor(params.ResponseThreshold, params.MaxFeatures),
		locator: planar.Locator{
			Matcher:         feature.Matcher{Ratio: params.Ratio, Workers: params.Workers},
			Solver:          solver,
			ReprojThreshold: params.ReprojThreshold,
		},
	}
}

// Locate 提取两张图的特征并定位模板
func (k *KeypointMatching) Locate() (*KeypointResult, error) {
	startTime := time.Now()

	if k.imSearch.Empty() || k.imSource.Empty() {
		return nil, fmt.Errorf("图像为空")
	}

	templateSet, err := k.extractor.Extract(k.imSearch)
	if err != nil {
		return nil, fmt.Errorf("提取模板特征失败: %w", err)
	}
	sceneSet, err := k.extractor.Extract(k.imSource)
	if err != nil {
		return nil, fmt.Errorf("提取场景特征失败: %w", err)
	}
	logger.Debug("SIFT 特征: 模板 %d, 场景 %d", len(templateSet), len(sceneSet))

	src := planar.RectQuad(k.imSearch.Cols(), k.imSearch.Rows())
	location, err := k.locator.Locate(templateSet, sceneSet, src)
	if err != nil {
		return nil, err
	}

	return &KeypointResult{
		Template: templateSet,
		Scene:    sceneSet,
		Source:   src,
		Location: location,
		Time:     float64(time.Since(startTime).Milliseconds()),
	}, nil
}

// Close 释放资源
func (k *KeypointMatching) Close() {
	k.extractor.Close()
}
