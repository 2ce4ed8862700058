package cv

import (
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/zoeyai/imagematch/pkg/vision/planar"
)

// TemplateMatching 相关性模板匹配 (TM_CCOEFF_NORMED)
type TemplateMatching struct {
	imSearch gocv.Mat
	imSource gocv.Mat
	rgb      bool
}

// NewTemplateMatching 创建模板匹配器
//
// rgb 为 true 时在最佳位置上分别计算三个通道的相关系数，取最小值作为置信度。
func NewTemplateMatching(search, source gocv.Mat, rgb bool) *TemplateMatching {
	return &TemplateMatching{
		imSearch: search,
		imSource: source,
		rgb:      rgb,
	}
}

// FindBestResult 返回相关系数最大的位置，模板大于场景时返回 *ImageSizeError
func (t *TemplateMatching) FindBestResult() (*MatchResult, error) {
	startTime := time.Now()

	if err := CheckSourceLargerThanSearch(t.imSource, t.imSearch); err != nil {
		return nil, err
	}

	srcGray := ToGray(t.imSource)
	searchGray := ToGray(t.imSearch)
	defer srcGray.Close()
	defer searchGray.Close()

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.MatchTemplate(srcGray, searchGray, &result, gocv.TmCcoeffNormed, mask)

	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)

	h, w := t.imSearch.Rows(), t.imSearch.Cols()
	confidence := float64(maxVal)
	if t.rgb && t.imSource.Channels() == 3 && t.imSearch.Channels() == 3 {
		crop := t.imSource.Region(image.Rect(maxLoc.X, maxLoc.Y, maxLoc.X+w, maxLoc.Y+h))
		confidence = rgbConfidence(crop, t.imSearch)
		crop.Close()
	}

	rect := targetRectangle(maxLoc, w, h)
	return &MatchResult{
		Result:     rect.Center(),
		Rectangle:  rect,
		Confidence: confidence,
		Time:       float64(time.Since(startTime).Milliseconds()),
	}, nil
}

// targetRectangle 左上角为 leftTop、大小为 w x h 的区域
func targetRectangle(leftTop image.Point, w, h int) planar.Quad {
	return planar.Quad{
		{X: leftTop.X, Y: leftTop.Y},
		{X: leftTop.X + w, Y: leftTop.Y},
		{X: leftTop.X + w, Y: leftTop.Y + h},
		{X: leftTop.X, Y: leftTop.Y + h},
	}
}

// rgbConfidence 两张同尺寸彩图逐通道计算相关系数，返回最小值
func rgbConfidence(imgSrc, imgSearch gocv.Mat) float64 {
	if imgSrc.Rows() != imgSearch.Rows() || imgSrc.Cols() != imgSearch.Cols() {
		return 0
	}

	srcChannels := gocv.Split(imgSrc)
	searchChannels := gocv.Split(imgSearch)
	defer func() {
		for _, ch := range srcChannels {
			ch.Close()
		}
		for _, ch := range searchChannels {
			ch.Close()
		}
	}()

	minConfidence := 1.0
	for i := 0; i < len(srcChannels) && i < len(searchChannels); i++ {
		result := gocv.NewMat()
		mask := gocv.NewMat()
		gocv.MatchTemplate(srcChannels[i], searchChannels[i], &result, gocv.TmCcoeffNormed, mask)
		_, maxVal, _, _ := gocv.MinMaxLoc(result)
		result.Close()
		mask.Close()

		if c := float64(maxVal); c < minConfidence {
			minConfidence = c
		}
	}
	return minConfidence
}
