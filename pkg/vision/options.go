package vision

import (
	"github.com/zoeyai/imagematch/pkg/config"
	"github.com/zoeyai/imagematch/pkg/vision/cv"
	"github.com/zoeyai/imagematch/pkg/vision/planar"
)

// Option 配置选项函数类型
type Option func(*matchConfig)

// matchConfig 单次匹配的配置
type matchConfig struct {
	similarity        float64
	ratio             float64
	reprojThreshold   float64
	responseThreshold float64
	maxFeatures       int
	workers           int
	output            bool
	outputDir         string
	rgb               bool
	solver            planar.Solver
}

// defaultMatchConfig 默认匹配配置
func defaultMatchConfig() *matchConfig {
	d := config.DefaultMatchConfig()
	return &matchConfig{
		similarity:        d.Similarity,
		ratio:             d.Ratio,
		reprojThreshold:   d.ReprojThreshold,
		responseThreshold: d.ResponseThreshold,
		maxFeatures:       d.MaxFeatures,
		workers:           d.Workers,
		outputDir:         d.OutputDir,
	}
}

func applyOptions(opts ...Option) *matchConfig {
	cfg := defaultMatchConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *matchConfig) keypointParams() cv.KeypointParams {
	return cv.KeypointParams{
		ResponseThreshold: c.responseThreshold,
		MaxFeatures:       c.maxFeatures,
		Ratio:             c.ratio,
		Workers:           c.workers,
		ReprojThreshold:   c.reprojThreshold,
		Solver:            c.solver,
	}
}

// FromConfig 把配置文件转换为选项
func FromConfig(cfg *config.MatchConfig) []Option {
	if cfg == nil {
		return nil
	}
	return []Option{
		WithSimilarity(cfg.Similarity),
		WithRatio(cfg.Ratio),
		WithReprojThreshold(cfg.ReprojThreshold),
		WithResponseThreshold(cfg.ResponseThreshold),
		WithMaxFeatures(cfg.MaxFeatures),
		WithWorkers(cfg.Workers),
		WithOutputDir(cfg.OutputDir),
	}
}

// WithSimilarity 设置相关性匹配的最低相似度
func WithSimilarity(similarity float64) Option {
	return func(c *matchConfig) {
		c.similarity = similarity
	}
}

// WithOutput 是否输出结果图
func WithOutput(output bool) Option {
	return func(c *matchConfig) {
		c.output = output
	}
}

// WithOutputDir 设置结果图目录
func WithOutputDir(dir string) Option {
	return func(c *matchConfig) {
		c.outputDir = dir
	}
}

// WithRatio 设置最近邻比率测试阈值
func WithRatio(ratio float64) Option {
	return func(c *matchConfig) {
		c.ratio = ratio
	}
}

// WithReprojThreshold 设置单应性估计的最大重投影误差
func WithReprojThreshold(threshold float64) Option {
	return func(c *matchConfig) {
		c.reprojThreshold = threshold
	}
}

// WithResponseThreshold 设置特征点最低响应值
func WithResponseThreshold(threshold float64) Option {
	return func(c *matchConfig) {
		c.responseThreshold = threshold
	}
}

// WithMaxFeatures 设置每张图最多保留的特征数
func WithMaxFeatures(n int) Option {
	return func(c *matchConfig) {
		c.maxFeatures = n
	}
}

// WithWorkers 设置对应查找的并发数
func WithWorkers(n int) Option {
	return func(c *matchConfig) {
		c.workers = n
	}
}

// WithRGB 相关性匹配时逐通道校验
func WithRGB(rgb bool) Option {
	return func(c *matchConfig) {
		c.rgb = rgb
	}
}

// WithSolver 替换单应性估计器，例如 planar.NewRANSACSolver()
func WithSolver(solver planar.Solver) Option {
	return func(c *matchConfig) {
		c.solver = solver
	}
}
