package feature

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func randomDescriptor(r *rand.Rand, length int) Descriptor {
	d := make(Descriptor, length)
	for i := range d {
		d[i] = r.Float32()
	}
	return d
}

func TestDistanceSelfIsZero(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, length := range []int{4, 8, 64, 128} {
		d := randomDescriptor(r, length)
		if got := Distance(d, d, math.Inf(1)); got != 0 {
			t.Errorf("长度 %d 自身距离应为 0, 实际 %v", length, got)
		}
	}
}

func TestDistanceSymmetric(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 50; i++ {
		a := randomDescriptor(r, 64)
		b := randomDescriptor(r, 64)
		for _, bound := range []float64{math.Inf(1), 1, 0.1} {
			if Distance(a, b, bound) != Distance(b, a, bound) {
				t.Fatalf("距离不对称: bound=%v", bound)
			}
		}
	}
}

func TestDistanceKnownValue(t *testing.T) {
	a := Descriptor{1, 2, 3, 4, 0, 0, 0, 0}
	b := Descriptor{0, 0, 0, 0, 1, 1, 1, 1}
	// 1+4+9+16 + 4
	if got := Distance(a, b, math.Inf(1)); got != 34 {
		t.Errorf("距离错误: got %v, want 34", got)
	}
}

func TestDistanceEarlyTerminationNeverOverstates(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		a := randomDescriptor(r, 128)
		b := randomDescriptor(r, 128)
		full := Distance(a, b, math.Inf(1))
		for _, bound := range []float64{0, 0.5, 1, 5, full} {
			partial := Distance(a, b, bound)
			if partial > full {
				t.Fatalf("提前终止结果 %v 大于完整距离 %v", partial, full)
			}
			if partial <= bound && partial != full {
				t.Fatalf("未超过 bound=%v 时应返回完整距离: got %v, want %v", bound, partial, full)
			}
		}
	}
}

func TestDistanceStopsAfterExceedingBound(t *testing.T) {
	a := Descriptor{10, 0, 0, 0, 10, 0, 0, 0}
	b := Descriptor{0, 0, 0, 0, 0, 0, 0, 0}
	if got := Distance(a, b, 50); got != 100 {
		t.Errorf("第一组超过 bound 后应停止: got %v, want 100", got)
	}
}

func TestDistancePanicsOnInvalidLength(t *testing.T) {
	cases := []struct {
		name string
		a, b Descriptor
	}{
		{"不是 4 的倍数", Descriptor{1, 2, 3}, Descriptor{1, 2, 3}},
		{"长度不一致", Descriptor{1, 2, 3, 4}, Descriptor{1, 2, 3, 4, 5, 6, 7, 8}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("应当 panic")
				}
			}()
			Distance(tc.a, tc.b, math.Inf(1))
		})
	}
}

func feat(laplacian int, values ...float32) Feature {
	return Feature{Keypoint: Keypoint{Laplacian: laplacian}, Descriptor: Descriptor(values)}
}

func TestNearestNeighborRatioBoundaryRejected(t *testing.T) {
	m := NewMatcher()
	query := feat(1, 0, 0, 0, 0)

	// d1 = 6, d2 = 10, 6 < 0.6*10 不成立
	reference := Set{
		feat(1, 3, 1, 0, 0),
		feat(1, 1, 1, 2, 0),
	}
	if _, ok := m.NearestNeighbor(query, reference); ok {
		t.Error("d1 恰好等于 0.6*d2 时应拒绝")
	}

	// 调换顺序结果不变
	reference[0], reference[1] = reference[1], reference[0]
	if _, ok := m.NearestNeighbor(query, reference); ok {
		t.Error("调换顺序后 d1 恰好等于 0.6*d2 仍应拒绝")
	}
}

func TestNearestNeighborRatioAccepted(t *testing.T) {
	m := NewMatcher()
	query := feat(1, 0, 0, 0, 0)
	// d1 = 6, d2 = 11
	reference := Set{
		feat(1, 3, 1, 1, 0),
		feat(1, 1, 1, 2, 0),
	}
	idx, ok := m.NearestNeighbor(query, reference)
	if !ok || idx != 1 {
		t.Errorf("应匹配下标 1: got (%d, %v)", idx, ok)
	}
}

func TestNearestNeighborOrientationFilter(t *testing.T) {
	m := NewMatcher()
	query := feat(1, 1, 2, 3, 4)

	// 完全相同但方向符号不同
	reference := Set{feat(-1, 1, 2, 3, 4)}
	if _, ok := m.NearestNeighbor(query, reference); ok {
		t.Error("方向符号不同的候选不应被选中")
	}

	reference = append(reference, feat(1, 9, 9, 9, 9))
	idx, ok := m.NearestNeighbor(query, reference)
	if !ok || idx != 1 {
		t.Errorf("唯一兼容候选应被接受: got (%d, %v)", idx, ok)
	}
}

func TestNearestNeighborEmptyReference(t *testing.T) {
	m := NewMatcher()
	if _, ok := m.NearestNeighbor(feat(1, 0, 0, 0, 0), nil); ok {
		t.Error("空参考集不应匹配")
	}
}

func TestNearestNeighborDuplicateCandidatesAmbiguous(t *testing.T) {
	m := NewMatcher()
	query := feat(1, 1, 1, 1, 1)
	reference := Set{feat(1, 1, 1, 1, 1), feat(1, 1, 1, 1, 1)}
	if _, ok := m.NearestNeighbor(query, reference); ok {
		t.Error("两个距离相同的候选应被视为歧义")
	}
}

func TestNearestNeighborCustomRatio(t *testing.T) {
	query := feat(1, 0, 0, 0, 0)
	reference := Set{
		feat(1, 3, 1, 0, 0), // 10
		feat(1, 2, 1, 1, 0), // 6
	}
	if _, ok := (Matcher{Ratio: 0.7}).NearestNeighbor(query, reference); !ok {
		t.Error("Ratio=0.7 时 6 < 7 应接受")
	}
	if _, ok := (Matcher{}).NearestNeighbor(query, reference); ok {
		t.Error("零值 Ratio 应使用默认值 0.6")
	}
}

// distinctSet 生成互不相近的特征，每个特征只在一个分量上取大值
func distinctSet(n int, offsetX, offsetY float64) Set {
	s := make(Set, n)
	for i := range s {
		d := make(Descriptor, 8)
		d[i%8] = float32(10 * (i/8 + 1))
		s[i] = Feature{
			Keypoint:   Keypoint{X: float64(i*10) + offsetX, Y: float64(i*7) + offsetY, Laplacian: 1},
			Descriptor: d,
		}
	}
	return s
}

func TestFindPairsIdentical(t *testing.T) {
	template := distinctSet(6, 0, 0)
	scene := distinctSet(6, 5, 5)

	pairs, err := NewMatcher().FindPairs(template, scene)
	if err != nil {
		t.Fatalf("FindPairs 失败: %v", err)
	}
	if len(pairs) != len(template) {
		t.Fatalf("对应数量错误: got %d, want %d", len(pairs), len(template))
	}
	for i, p := range pairs {
		if p.TemplateIndex != i || p.SceneIndex != i {
			t.Errorf("第 %d 个对应错误: %+v", i, p)
		}
	}
}

func TestFindPairsInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	template := make(Set, 40)
	scene := make(Set, 60)
	for i := range template {
		template[i] = Feature{Keypoint: Keypoint{Laplacian: 1 - 2*(i%2)}, Descriptor: randomDescriptor(r, 16)}
	}
	for i := range scene {
		scene[i] = Feature{Keypoint: Keypoint{Laplacian: 1 - 2*(i%3%2)}, Descriptor: randomDescriptor(r, 16)}
	}
	// 让部分模板特征在场景中有几乎相同的副本
	for i := 0; i < 10; i++ {
		scene[i*5] = template[i*3]
	}

	pairs, err := NewMatcher().FindPairs(template, scene)
	if err != nil {
		t.Fatalf("FindPairs 失败: %v", err)
	}
	if len(pairs) > len(template) {
		t.Fatalf("对应数量 %d 超过模板特征数 %d", len(pairs), len(template))
	}
	seen := make(map[int]bool)
	last := -1
	for _, p := range pairs {
		if seen[p.TemplateIndex] {
			t.Fatalf("模板下标重复: %d", p.TemplateIndex)
		}
		if p.TemplateIndex <= last {
			t.Fatalf("结果未按模板下标升序: %v", pairs)
		}
		seen[p.TemplateIndex] = true
		last = p.TemplateIndex
	}
	t.Logf("找到 %d 个对应", len(pairs))
}

func TestFindPairsParallelMatchesSerial(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	template := make(Set, 200)
	scene := make(Set, 300)
	for i := range template {
		template[i] = Feature{Keypoint: Keypoint{Laplacian: 1}, Descriptor: randomDescriptor(r, 32)}
	}
	for i := range scene {
		scene[i] = Feature{Keypoint: Keypoint{Laplacian: 1}, Descriptor: randomDescriptor(r, 32)}
	}
	for i := 0; i < 50; i++ {
		scene[i*6] = template[i*4]
	}

	serial, err := Matcher{Workers: 1}.FindPairs(template, scene)
	if err != nil {
		t.Fatalf("串行 FindPairs 失败: %v", err)
	}
	parallel, err := Matcher{Workers: 8}.FindPairs(template, scene)
	if err != nil {
		t.Fatalf("并行 FindPairs 失败: %v", err)
	}

	if len(serial) != len(parallel) {
		t.Fatalf("结果数量不一致: 串行 %d, 并行 %d", len(serial), len(parallel))
	}
	for i := range serial {
		if serial[i] != parallel[i] {
			t.Fatalf("第 %d 个结果不一致: %+v vs %+v", i, serial[i], parallel[i])
		}
	}
}

func TestFindPairsNoiseScene(t *testing.T) {
	template := distinctSet(4, 0, 0)
	// 噪声场景: 所有候选到任何模板特征的距离都相同，比率测试全部失败
	scene := Set{
		feat(1, 50, 50, 50, 50, 50, 50, 50, 50),
		feat(1, 50, 50, 50, 50, 50, 50, 50, 50),
		feat(1, 50, 50, 50, 50, 50, 50, 50, 50),
	}
	pairs, err := NewMatcher().FindPairs(template, scene)
	if err != nil {
		t.Fatalf("FindPairs 失败: %v", err)
	}
	if len(pairs) != 0 {
		t.Errorf("噪声场景应无对应: %v", pairs)
	}
}

func TestFindPairsInvalidInput(t *testing.T) {
	cases := []struct {
		name            string
		template, scene Set
	}{
		{"模板长度非法", Set{feat(1, 1, 2, 3)}, Set{feat(1, 1, 2, 3, 4)}},
		{"场景长度不一致", Set{feat(1, 1, 2, 3, 4)}, Set{feat(1, 1, 2, 3, 4), feat(1, 1, 2, 3, 4, 5, 6, 7, 8)}},
		{"模板与场景长度不同", Set{feat(1, 1, 2, 3, 4)}, Set{feat(1, 1, 2, 3, 4, 5, 6, 7, 8)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMatcher().FindPairs(tc.template, tc.scene)
			if !errors.Is(err, ErrDescriptorLength) {
				t.Errorf("应返回 ErrDescriptorLength, 实际 %v", err)
			}
		})
	}
}

func TestFindPairsEmpty(t *testing.T) {
	pairs, err := NewMatcher().FindPairs(nil, distinctSet(3, 0, 0))
	if err != nil || len(pairs) != 0 {
		t.Errorf("空模板应返回空结果: %v, %v", pairs, err)
	}
}
