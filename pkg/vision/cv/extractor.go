package cv

import (
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"

	"github.com/zoeyai/imagematch/pkg/vision/feature"
)

// FeatureExtractor 特征提取器
type FeatureExtractor interface {
	// Extract 从灰度图中提取特征
	Extract(gray gocv.Mat) (feature.Set, error)
	// Close 释放资源
	Close()
}

// SIFTExtractor SIFT 特征提取器
//
// SIFT 本身不提供 Laplacian 符号，这里在高斯平滑后的图像上计算 Laplacian，
// 取关键点位置的符号，语义与 SURF 的 laplacian 字段一致。
type SIFTExtractor struct {
	// ResponseThreshold 低于该响应值的关键点被丢弃
	ResponseThreshold float64
	// MaxFeatures 按响应值保留前 N 个关键点，0 表示不限制
	MaxFeatures int

	sift gocv.SIFT
}

// NewSIFTExtractor 创建 SIFT 特征提取器
func NewSIFTExtractor(responseThreshold float64, maxFeatures int) *SIFTExtractor {
	return &SIFTExtractor{
		ResponseThreshold: responseThreshold,
		MaxFeatures:       maxFeatures,
		sift:              gocv.NewSIFT(),
	}
}

// Extract 提取特征
func (s *SIFTExtractor) Extract(gray gocv.Mat) (feature.Set, error) {
	if gray.Empty() {
		return nil, fmt.Errorf("图像为空")
	}
	if gray.Channels() != 1 {
		g := ToGray(gray)
		defer g.Close()
		gray = g
	}

	mask := gocv.NewMat()
	defer mask.Close()
	keypoints, desc := s.sift.DetectAndCompute(gray, mask)
	defer desc.Close()

	if len(keypoints) == 0 {
		return nil, nil
	}
	if desc.Rows() != len(keypoints) {
		return nil, fmt.Errorf("描述子数量 %d 与关键点数量 %d 不一致", desc.Rows(), len(keypoints))
	}
	if desc.Cols()%4 != 0 {
		return nil, fmt.Errorf("%w: SIFT 描述子长度 %d", feature.ErrDescriptorLength, desc.Cols())
	}

	lap := laplacianResponse(gray)
	defer lap.Close()

	order := s.selectKeypoints(keypoints)
	set := make(feature.Set, 0, len(order))
	for _, i := range order {
		kp := keypoints[i]
		d := make(feature.Descriptor, desc.Cols())
		for j := range d {
			d[j] = desc.GetFloatAt(i, j)
		}
		set = append(set, feature.Feature{
			Keypoint: feature.Keypoint{
				X:         kp.X,
				Y:         kp.Y,
				Laplacian: laplacianSign(lap, kp.X, kp.Y),
			},
			Descriptor: d,
		})
	}
	return set, nil
}

// selectKeypoints 过滤低响应关键点，保留原始顺序
func (s *SIFTExtractor) selectKeypoints(keypoints []gocv.KeyPoint) []int {
	order := make([]int, 0, len(keypoints))
	for i, kp := range keypoints {
		if kp.Response >= s.ResponseThreshold {
			order = append(order, i)
		}
	}

	if s.MaxFeatures > 0 && len(order) > s.MaxFeatures {
		sort.SliceStable(order, func(a, b int) bool {
			return keypoints[order[a]].Response > keypoints[order[b]].Response
		})
		order = order[:s.MaxFeatures]
		sort.Ints(order)
	}
	return order
}

// Close 释放资源
func (s *SIFTExtractor) Close() {
	s.sift.Close()
}

// laplacianResponse 计算平滑后的 Laplacian 响应 (CV_32F)
func laplacianResponse(gray gocv.Mat) gocv.Mat {
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: 5, Y: 5}, 1.6, 1.6, gocv.BorderDefault)

	lap := gocv.NewMat()
	gocv.Laplacian(blurred, &lap, gocv.MatTypeCV32F, 3, 1, 0, gocv.BorderDefault)
	return lap
}

// laplacianSign 返回关键点处 Laplacian 的符号
func laplacianSign(lap gocv.Mat, x, y float64) int {
	col := clamp(int(x+0.5), 0, lap.Cols()-1)
	row := clamp(int(y+0.5), 0, lap.Rows()-1)
	if lap.GetFloatAt(row, col) < 0 {
		return -1
	}
	return 1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
