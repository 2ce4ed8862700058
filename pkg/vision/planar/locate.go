package planar

import (
	"fmt"
	"time"

	"github.com/zoeyai/imagematch/internal/logger"
	"github.com/zoeyai/imagematch/pkg/vision/feature"
)

const (
	// MinPairs 估计单应性矩阵所需的最少点对
	MinPairs = 4
	// DefaultReprojThreshold 默认最大重投影误差 (像素)
	DefaultReprojThreshold = 5.0
)

// Solver 单应性矩阵估计器
type Solver interface {
	// Estimate 用鲁棒方法估计把 src 映射到 dst 的变换，失败时返回错误
	Estimate(src, dst []PointF, reprojThreshold float64) (Homography, error)
}

// Location 定位结果
type Location struct {
	// Corners 模板四角在场景中的位置
	Corners Quad `json:"corners"`
	// Homography 模板到场景的变换
	Homography Homography `json:"homography"`
	// Pairs 参与估计的特征对应
	Pairs []feature.Correspondence `json:"pairs"`
}

// Locator 平面模板定位器
type Locator struct {
	Matcher         feature.Matcher
	Solver          Solver
	ReprojThreshold float64
}

// NewLocator 使用默认匹配器创建定位器
func NewLocator(solver Solver) Locator {
	return Locator{
		Matcher:         feature.NewMatcher(),
		Solver:          solver,
		ReprojThreshold: DefaultReprojThreshold,
	}
}

// Locate 在场景中定位模板
//
// 返回 (nil, nil) 表示未找到: 对应少于 4 个、估计失败或投影退化。
// 只有输入本身非法时才返回错误。
func (l Locator) Locate(template, scene feature.Set, src Quad) (*Location, error) {
	if l.Solver == nil {
		return nil, fmt.Errorf("未设置单应性估计器")
	}
	startTime := time.Now()

	pairs, err := l.Matcher.FindPairs(template, scene)
	if err != nil {
		return nil, err
	}
	logger.Debug("特征对应: 模板 %d, 场景 %d, 对应 %d", len(template), len(scene), len(pairs))

	if len(pairs) < MinPairs {
		return nil, nil
	}

	srcPts := make([]PointF, len(pairs))
	dstPts := make([]PointF, len(pairs))
	for i, p := range pairs {
		tk := template[p.TemplateIndex].Keypoint
		sk := scene[p.SceneIndex].Keypoint
		srcPts[i] = PointF{X: tk.X, Y: tk.Y}
		dstPts[i] = PointF{X: sk.X, Y: sk.Y}
	}

	threshold := l.ReprojThreshold
	if threshold <= 0 {
		threshold = DefaultReprojThreshold
	}
	h, err := l.Solver.Estimate(srcPts, dstPts, threshold)
	if err != nil {
		logger.Debug("单应性估计失败: %v", err)
		return nil, nil
	}

	corners, ok := h.ProjectQuad(src)
	if !ok {
		logger.Debug("角点投影退化: %v", h)
		return nil, nil
	}

	logger.Debug("定位完成: %v, 耗时 %dms", corners, time.Since(startTime).Milliseconds())
	return &Location{
		Corners:    corners,
		Homography: h,
		Pairs:      pairs,
	}, nil
}
