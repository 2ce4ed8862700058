// Package vision 提供图像匹配的对外接口
//
// 主要功能:
//   - PerfectMatch: 两张同尺寸图像的相关性比较
//   - PerfectMatchTemplate: 相关性模板匹配，对亮度变化鲁棒
//   - FuzzyMatchTemplate: SIFT 特征对应 + 单应性定位，忽略颜色、尺寸与形变细节
//   - MatchTemplateIgnoreSize: 先用特征点估计尺寸，缩放模板后做相关性匹配
//
// 基本用法:
//
//	ok, err := vision.PerfectMatchTemplate("screen.png", "logo.png", vision.WithSimilarity(0.95))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	loc, err := vision.GetObjectLocation("scene.png", "box.png")
//	if err == nil && loc != nil {
//	    fmt.Println(loc.Corners)
//	}
package vision

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"github.com/zoeyai/imagematch/internal/logger"
	"github.com/zoeyai/imagematch/pkg/vision/cv"
)

// ============ 文件接口 ============

// PerfectMatch 比较两张同尺寸图像
// 尺寸不同直接返回 false；相关系数不低于相似度时返回 true
func PerfectMatch(image1, image2 string, opts ...Option) (bool, error) {
	startTime := time.Now()
	cfg := applyOptions(opts...)

	matched, err := func() (bool, error) {
		if err := checkInputs(cfg, image1, image2); err != nil {
			return false, err
		}
		a, b, err := loadPair(image1, image2, false)
		if err != nil {
			return false, err
		}
		defer a.Close()
		defer b.Close()

		if a.Rows() != b.Rows() || a.Cols() != b.Cols() {
			return false, nil
		}
		result, err := matchTemplate(a, b, cfg)
		if err != nil {
			return false, err
		}
		return result.Matched, nil
	}()

	logEvent(CategoryPerfect, matched, err, startTime, image1, image2)
	return matched, err
}

// PerfectMatchTemplate 在场景中做相关性模板匹配
// 模板大于场景时返回 false
func PerfectMatchTemplate(scene, template string, opts ...Option) (bool, error) {
	startTime := time.Now()
	cfg := applyOptions(opts...)

	matched, err := func() (bool, error) {
		if err := checkInputs(cfg, scene, template); err != nil {
			return false, err
		}
		s, t, err := loadPair(scene, template, false)
		if err != nil {
			return false, err
		}
		defer s.Close()
		defer t.Close()

		result, err := matchTemplate(s, t, cfg)
		if err != nil {
			return false, err
		}
		return result.Matched, nil
	}()

	logEvent(CategoryTemplate, matched, err, startTime, scene, template)
	return matched, err
}

// FuzzyMatchTemplate 用特征点对应判断场景中是否包含模板
// 对颜色、尺寸和形变不敏感，结果取决于图像内容
func FuzzyMatchTemplate(scene, template string, opts ...Option) (bool, error) {
	startTime := time.Now()
	cfg := applyOptions(opts...)

	matched, err := func() (bool, error) {
		if err := checkFiles(scene, template); err != nil {
			return false, err
		}
		s, t, err := loadPair(scene, template, true)
		if err != nil {
			return false, err
		}
		defer s.Close()
		defer t.Close()

		result, err := fuzzyMatch(s, t, cfg)
		if err != nil {
			return false, err
		}
		return result.Matched, nil
	}()

	logEvent(CategoryFuzzy, matched, err, startTime, scene, template)
	return matched, err
}

// MatchTemplateIgnoreSize 先定位模板并按定位结果缩放，再做相关性匹配
func MatchTemplateIgnoreSize(scene, template string, opts ...Option) (bool, error) {
	startTime := time.Now()
	cfg := applyOptions(opts...)

	matched, err := func() (bool, error) {
		if err := checkInputs(cfg, scene, template); err != nil {
			return false, err
		}
		s, t, err := loadPair(scene, template, false)
		if err != nil {
			return false, err
		}
		defer s.Close()
		defer t.Close()

		result, err := matchIgnoreSize(s, t, cfg)
		if err != nil {
			return false, err
		}
		return result.Matched, nil
	}()

	logEvent(CategoryIgnoreSize, matched, err, startTime, scene, template)
	return matched, err
}

// GetObjectLocation 返回模板四角在场景中的位置，未找到返回 nil
func GetObjectLocation(scene, template string, opts ...Option) (*Location, error) {
	cfg := applyOptions(opts...)
	if err := checkFiles(scene, template); err != nil {
		return nil, err
	}
	s, t, err := loadPair(scene, template, true)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	defer t.Close()

	kr, err := locate(s, t, cfg)
	if err != nil || kr == nil {
		return nil, err
	}
	return kr.Location, nil
}

// ============ Mat 接口 ============

// MatchTemplateMat 相关性模板匹配
func MatchTemplateMat(scene, template gocv.Mat, opts ...Option) (*Result, error) {
	cfg := applyOptions(opts...)
	if err := checkSimilarity(cfg.similarity); err != nil {
		return nil, err
	}
	return matchTemplate(scene, template, cfg)
}

// FuzzyMatchMat 特征点定位
func FuzzyMatchMat(scene, template gocv.Mat, opts ...Option) (*Result, error) {
	return fuzzyMatch(scene, template, applyOptions(opts...))
}

// MatchIgnoreSizeMat 缩放模板后的相关性匹配
func MatchIgnoreSizeMat(scene, template gocv.Mat, opts ...Option) (*Result, error) {
	cfg := applyOptions(opts...)
	if err := checkSimilarity(cfg.similarity); err != nil {
		return nil, err
	}
	return matchIgnoreSize(scene, template, cfg)
}

// LocateMat 特征点定位，返回包含特征与对应的完整结果
// 模板大于场景时返回 nil
func LocateMat(scene, template gocv.Mat, opts ...Option) (*cv.KeypointResult, error) {
	return locate(scene, template, applyOptions(opts...))
}

// Score 返回相关系数最大值及位置，不做阈值判断
func Score(scene, template gocv.Mat, opts ...Option) (*MatchResult, error) {
	cfg := applyOptions(opts...)
	return cv.NewTemplateMatching(template, scene, cfg.rgb).FindBestResult()
}

// ============ 内部实现 ============

func matchTemplate(scene, template gocv.Mat, cfg *matchConfig) (*Result, error) {
	startTime := time.Now()

	m, err := cv.NewTemplateMatching(template, scene, cfg.rgb).FindBestResult()
	var sizeErr *cv.ImageSizeError
	if errors.As(err, &sizeErr) {
		return &Result{Time: elapsedMs(startTime)}, nil
	}
	if err != nil {
		return nil, err
	}

	corners := m.Rectangle
	result := &Result{
		Matched: m.Confidence >= cfg.similarity,
		Score:   m.Confidence,
		Corners: &corners,
	}
	logger.Debug("相关系数 %.4f (阈值 %.2f) 位置 %v", m.Confidence, cfg.similarity, m.Rectangle.TopLeft())

	if cfg.output {
		path, err := cv.NewRenderer(cfg.outputDir).RenderTemplateMatch(scene, m, result.Matched)
		if err != nil {
			return nil, err
		}
		result.OutputPath = path
	}

	result.Time = elapsedMs(startTime)
	return result, nil
}

func fuzzyMatch(scene, template gocv.Mat, cfg *matchConfig) (*Result, error) {
	startTime := time.Now()

	sGray := cv.ToGray(scene)
	tGray := cv.ToGray(template)
	defer sGray.Close()
	defer tGray.Close()

	kr, err := locate(sGray, tGray, cfg)
	if err != nil {
		return nil, err
	}
	if kr == nil {
		return &Result{Time: elapsedMs(startTime)}, nil
	}

	result := &Result{Matched: kr.Found()}
	if kr.Found() {
		corners := kr.Location.Corners
		result.Corners = &corners
		result.Pairs = len(kr.Location.Pairs)
	}

	if cfg.output {
		path, err := cv.NewRenderer(cfg.outputDir).RenderCorrespondence(tGray, sGray, kr)
		if err != nil {
			return nil, err
		}
		result.OutputPath = path
	}

	result.Time = elapsedMs(startTime)
	return result, nil
}

func matchIgnoreSize(scene, template gocv.Mat, cfg *matchConfig) (*Result, error) {
	sGray := cv.ToGray(scene)
	tGray := cv.ToGray(template)
	defer sGray.Close()
	defer tGray.Close()

	kr, err := locate(sGray, tGray, cfg)
	if err != nil {
		return nil, err
	}

	if !kr.Found() {
		return matchTemplate(scene, template, cfg)
	}

	// 以定位到的上边和左边长度作为模板的新尺寸
	dst := kr.Location.Corners
	width := dst.TopRight().X - dst.TopLeft().X
	height := dst.BottomLeft().Y - dst.TopLeft().Y
	if width <= 0 || height <= 0 {
		logger.Debug("定位结果尺寸无效 %dx%d，使用原始模板", width, height)
		return matchTemplate(scene, template, cfg)
	}

	resized := cv.ResizeImage(template, width, height)
	defer resized.Close()
	logger.Debug("模板缩放 %dx%d -> %dx%d", template.Cols(), template.Rows(), width, height)

	return matchTemplate(scene, resized, cfg)
}

// locate 模板大于场景时返回 nil
func locate(scene, template gocv.Mat, cfg *matchConfig) (*cv.KeypointResult, error) {
	if scene.Cols() < template.Cols() || scene.Rows() < template.Rows() {
		return nil, nil
	}
	m := cv.NewKeypointMatching(template, scene, cfg.keypointParams())
	defer m.Close()
	return m.Locate()
}

func checkInputs(cfg *matchConfig, paths ...string) error {
	if err := checkFiles(paths...); err != nil {
		return err
	}
	return checkSimilarity(cfg.similarity)
}

func checkFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %s", ErrFileNotFound, p)
		}
	}
	return nil
}

func checkSimilarity(similarity float64) error {
	if similarity < 0.1 || similarity > 1.0 {
		return fmt.Errorf("%w: %v", ErrInvalidSimilarity, similarity)
	}
	return nil
}

func loadPair(first, second string, gray bool) (gocv.Mat, gocv.Mat, error) {
	read := cv.ReadImage
	if gray {
		read = cv.ReadImageGray
	}
	a, err := read(first)
	if err != nil {
		a.Close()
		return gocv.Mat{}, gocv.Mat{}, err
	}
	b, err := read(second)
	if err != nil {
		a.Close()
		b.Close()
		return gocv.Mat{}, gocv.Mat{}, err
	}
	return a, b, nil
}

func logEvent(category string, matched bool, err error, startTime time.Time, scene, template string) {
	detail := fmt.Sprintf("%s <- %s", filepath.Base(scene), filepath.Base(template))
	logger.LogEvent(category, matched, err, elapsedMs(startTime), detail)
}

func elapsedMs(startTime time.Time) float64 {
	return float64(time.Since(startTime).Microseconds()) / 1000
}
