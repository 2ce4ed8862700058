package feature

import (
	"fmt"
	"math"
	"runtime"
	"sync"
)

// DefaultRatio 比率测试默认阈值: 最近距离必须小于次近距离的 0.6 倍
const DefaultRatio = 0.6

// Matcher 最近邻匹配器
//
// Matcher 不持有可变状态，可以被多个 goroutine 同时使用。
type Matcher struct {
	// Ratio 比率测试阈值，<= 0 时使用 DefaultRatio
	Ratio float64
	// Workers 并发查询数，<= 1 时串行执行
	Workers int
}

// NewMatcher 创建默认匹配器
func NewMatcher() Matcher {
	return Matcher{Ratio: DefaultRatio, Workers: 1}
}

func (m Matcher) ratio() float64 {
	if m.Ratio <= 0 {
		return DefaultRatio
	}
	return m.Ratio
}

// NearestNeighbor 在 reference 中查找 query 的最近邻
//
// 方向符号不同的候选直接跳过。最近距离 d1 必须严格小于 Ratio*d2 才接受，
// 只有一个兼容候选时 d2 为无穷大，总是接受。
func (m Matcher) NearestNeighbor(query Feature, reference Set) (int, bool) {
	ratio := m.ratio()
	neighbor := -1
	dist1 := math.Inf(1)
	dist2 := math.Inf(1)

	for i, candidate := range reference {
		if candidate.Keypoint.Laplacian != query.Keypoint.Laplacian {
			continue
		}

		d := Distance(query.Descriptor, candidate.Descriptor, dist2)
		if d < dist1 {
			dist2 = dist1
			dist1 = d
			neighbor = i
		} else if d < dist2 {
			dist2 = d
		}
	}

	if neighbor < 0 || !(dist1 < ratio*dist2) {
		return -1, false
	}
	return neighbor, true
}

// FindPairs 为每个模板特征查找场景中的对应特征
//
// 结果按模板下标升序排列；同一个场景特征可能被多个模板特征选中，这里不做去重。
func (m Matcher) FindPairs(template, scene Set) ([]Correspondence, error) {
	if err := template.Validate(); err != nil {
		return nil, fmt.Errorf("模板特征: %w", err)
	}
	if err := scene.Validate(); err != nil {
		return nil, fmt.Errorf("场景特征: %w", err)
	}
	if len(template) > 0 && len(scene) > 0 && template.DescriptorLength() != scene.DescriptorLength() {
		return nil, fmt.Errorf("%w: 模板 %d, 场景 %d", ErrDescriptorLength,
			template.DescriptorLength(), scene.DescriptorLength())
	}

	if m.Workers <= 1 || len(template) < 2 {
		return m.findPairsSerial(template, scene), nil
	}
	return m.findPairsParallel(template, scene), nil
}

func (m Matcher) findPairsSerial(template, scene Set) []Correspondence {
	var pairs []Correspondence
	for i, f := range template {
		if j, ok := m.NearestNeighbor(f, scene); ok {
			pairs = append(pairs, Correspondence{TemplateIndex: i, SceneIndex: j})
		}
	}
	return pairs
}

// findPairsParallel 按模板下标分桶保存结果，完成顺序不影响输出顺序
func (m Matcher) findPairsParallel(template, scene Set) []Correspondence {
	workers := min(m.Workers, len(template), runtime.NumCPU())

	neighbors := make([]int, len(template))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				j, ok := m.NearestNeighbor(template[i], scene)
				if !ok {
					j = -1
				}
				neighbors[i] = j
			}
		}()
	}

	for i := range template {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var pairs []Correspondence
	for i, j := range neighbors {
		if j >= 0 {
			pairs = append(pairs, Correspondence{TemplateIndex: i, SceneIndex: j})
		}
	}
	return pairs
}
