package vision

import (
	"errors"
	"image"
	"image/color"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"github.com/zoeyai/imagematch/pkg/config"
	"github.com/zoeyai/imagematch/pkg/vision/cv"
	"github.com/zoeyai/imagematch/pkg/vision/planar"
)

const (
	cropX, cropY = 120, 90
	cropW, cropH = 150, 110
)

func syntheticScene() gocv.Mat {
	r := rand.New(rand.NewSource(7))
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), 300, 400, gocv.MatTypeCV8UC3)
	for i := 0; i < 150; i++ {
		x, y := r.Intn(400), r.Intn(300)
		w, h := 6+r.Intn(40), 6+r.Intn(40)
		c := color.RGBA{uint8(r.Intn(256)), uint8(r.Intn(256)), uint8(r.Intn(256)), 255}
		if i%2 == 0 {
			gocv.Rectangle(&img, image.Rect(x, y, x+w, y+h), c, -1)
		} else {
			gocv.Circle(&img, image.Pt(x, y), w/2, c, -1)
		}
	}
	return img
}

// fixture 把场景、裁剪模板和放大模板写入临时目录
type fixture struct {
	dir      string
	scene    string
	crop     string
	scaled   string
	blank    string
	otherDim string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()

	scene := syntheticScene()
	defer scene.Close()
	region := scene.Region(image.Rect(cropX, cropY, cropX+cropW, cropY+cropH))
	crop := region.Clone()
	region.Close()
	defer crop.Close()

	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(crop, &scaled, image.Pt(cropW*13/10, cropH*13/10), 0, 0, gocv.InterpolationLinear)

	blank := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(200, 200, 200, 0), 60, 80, gocv.MatTypeCV8UC3)
	defer blank.Close()

	otherDim := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), 200, 400, gocv.MatTypeCV8UC3)
	defer otherDim.Close()

	f := fixture{
		dir:      dir,
		scene:    filepath.Join(dir, "scene.png"),
		crop:     filepath.Join(dir, "crop.png"),
		scaled:   filepath.Join(dir, "scaled.png"),
		blank:    filepath.Join(dir, "blank.png"),
		otherDim: filepath.Join(dir, "other.png"),
	}
	for path, img := range map[string]gocv.Mat{
		f.scene:    scene,
		f.crop:     crop,
		f.scaled:   scaled,
		f.blank:    blank,
		f.otherDim: otherDim,
	} {
		if err := cv.WriteImage(path, img); err != nil {
			t.Skipf("无法写入测试图像: %v", err)
		}
	}
	return f
}

func TestVersion(t *testing.T) {
	if Version == "" {
		t.Error("Version 不应为空")
	}
}

func TestDefaultOptions(t *testing.T) {
	cfg := applyOptions()
	d := config.DefaultMatchConfig()

	if cfg.similarity != d.Similarity {
		t.Errorf("similarity 错误: got %.2f, want %.2f", cfg.similarity, d.Similarity)
	}
	if cfg.ratio != 0.6 {
		t.Errorf("ratio 错误: got %.2f, want 0.6", cfg.ratio)
	}
	if cfg.output {
		t.Error("默认不应输出结果图")
	}
	if cfg.solver != nil {
		t.Error("默认应使用 OpenCV 单应性估计")
	}
}

func TestOptions(t *testing.T) {
	solver := planar.NewRANSACSolver()
	cfg := applyOptions(
		WithSimilarity(0.8),
		WithRatio(0.5),
		WithWorkers(4),
		WithOutput(true),
		WithOutputDir("/tmp/out"),
		WithRGB(true),
		WithSolver(solver),
	)

	if cfg.similarity != 0.8 || cfg.ratio != 0.5 || cfg.workers != 4 {
		t.Errorf("选项未生效: %+v", cfg)
	}
	if !cfg.output || cfg.outputDir != "/tmp/out" || !cfg.rgb {
		t.Errorf("输出选项未生效: %+v", cfg)
	}

	params := cfg.keypointParams()
	if params.Ratio != 0.5 || params.Workers != 4 || params.Solver == nil {
		t.Errorf("keypointParams 错误: %+v", params)
	}
}

func TestFromConfig(t *testing.T) {
	if FromConfig(nil) != nil {
		t.Error("nil 配置应返回 nil")
	}

	c := config.DefaultMatchConfig()
	c.Similarity = 0.75
	c.MaxFeatures = 300
	c.OutputDir = "results"

	cfg := applyOptions(FromConfig(c)...)
	if cfg.similarity != 0.75 || cfg.maxFeatures != 300 || cfg.outputDir != "results" {
		t.Errorf("FromConfig 未生效: %+v", cfg)
	}
}

func TestInputValidation(t *testing.T) {
	f := newFixture(t)
	missing := filepath.Join(f.dir, "missing.png")

	tests := []struct {
		name    string
		call    func() (bool, error)
		wantErr error
	}{
		{"PerfectMatch 缺少文件", func() (bool, error) { return PerfectMatch(f.scene, missing) }, ErrFileNotFound},
		{"PerfectMatchTemplate 缺少文件", func() (bool, error) { return PerfectMatchTemplate(missing, f.crop) }, ErrFileNotFound},
		{"FuzzyMatchTemplate 缺少文件", func() (bool, error) { return FuzzyMatchTemplate(f.scene, missing) }, ErrFileNotFound},
		{"MatchTemplateIgnoreSize 缺少文件", func() (bool, error) { return MatchTemplateIgnoreSize(missing, f.crop) }, ErrFileNotFound},
		{"相似度过低", func() (bool, error) { return PerfectMatchTemplate(f.scene, f.crop, WithSimilarity(0.05)) }, ErrInvalidSimilarity},
		{"相似度过高", func() (bool, error) { return PerfectMatch(f.scene, f.scene, WithSimilarity(1.5)) }, ErrInvalidSimilarity},
		{"忽略尺寸相似度无效", func() (bool, error) { return MatchTemplateIgnoreSize(f.scene, f.crop, WithSimilarity(0)) }, ErrInvalidSimilarity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := tt.call()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("错误类型不符: got %v, want %v", err, tt.wantErr)
			}
			if ok {
				t.Error("出错时不应返回 true")
			}
		})
	}

	if _, err := GetObjectLocation(missing, f.crop); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("GetObjectLocation 缺少文件应返回 ErrFileNotFound, 实际 %v", err)
	}
}

func TestPerfectMatch(t *testing.T) {
	f := newFixture(t)

	ok, err := PerfectMatch(f.scene, f.scene)
	if err != nil {
		t.Fatalf("PerfectMatch 失败: %v", err)
	}
	if !ok {
		t.Error("同一张图应匹配")
	}

	ok, err = PerfectMatch(f.scene, f.otherDim)
	if err != nil {
		t.Fatalf("PerfectMatch 失败: %v", err)
	}
	if ok {
		t.Error("尺寸不同应返回 false")
	}
}

func TestPerfectMatchTemplate(t *testing.T) {
	f := newFixture(t)

	ok, err := PerfectMatchTemplate(f.scene, f.crop)
	if err != nil {
		t.Fatalf("PerfectMatchTemplate 失败: %v", err)
	}
	if !ok {
		t.Error("裁剪模板应匹配")
	}

	// 模板大于场景
	ok, err = PerfectMatchTemplate(f.crop, f.scene)
	if err != nil {
		t.Fatalf("模板大于场景不应报错: %v", err)
	}
	if ok {
		t.Error("模板大于场景应返回 false")
	}
}

func TestPerfectMatchTemplateOutput(t *testing.T) {
	f := newFixture(t)
	out := t.TempDir()

	ok, err := PerfectMatchTemplate(f.scene, f.crop, WithOutput(true), WithOutputDir(out))
	if err != nil {
		t.Fatalf("PerfectMatchTemplate 失败: %v", err)
	}
	if !ok {
		t.Fatal("裁剪模板应匹配")
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || filepath.Ext(entries[0].Name()) != ".png" {
		t.Errorf("应生成一张结果图, 实际 %v", entries)
	}
}

func TestFuzzyMatchTemplate(t *testing.T) {
	f := newFixture(t)

	ok, err := FuzzyMatchTemplate(f.scene, f.crop)
	if err != nil {
		t.Fatalf("FuzzyMatchTemplate 失败: %v", err)
	}
	if !ok {
		t.Error("裁剪模板应能定位")
	}

	// 纯色模板没有特征点
	ok, err = FuzzyMatchTemplate(f.scene, f.blank)
	if err != nil {
		t.Fatalf("FuzzyMatchTemplate 失败: %v", err)
	}
	if ok {
		t.Error("纯色模板不应定位成功")
	}
}

func TestGetObjectLocation(t *testing.T) {
	f := newFixture(t)

	loc, err := GetObjectLocation(f.scene, f.crop, WithWorkers(4))
	if err != nil {
		t.Fatalf("GetObjectLocation 失败: %v", err)
	}
	if loc == nil {
		t.Fatal("裁剪模板应能定位")
	}

	want := planar.Quad{
		{X: cropX, Y: cropY},
		{X: cropX + cropW, Y: cropY},
		{X: cropX + cropW, Y: cropY + cropH},
		{X: cropX, Y: cropY + cropH},
	}
	for i := range want {
		if absInt(loc.Corners[i].X-want[i].X) > 3 || absInt(loc.Corners[i].Y-want[i].Y) > 3 {
			t.Errorf("角点 %d 偏差过大: got %v, want %v", i, loc.Corners[i], want[i])
		}
	}
	if len(loc.Pairs) < planar.MinPairs {
		t.Errorf("对应数量不足: %d", len(loc.Pairs))
	}

	loc, err = GetObjectLocation(f.crop, f.scene)
	if err != nil || loc != nil {
		t.Errorf("模板大于场景应返回 nil, nil: got %v, %v", loc, err)
	}
}

func TestMatchTemplateIgnoreSize(t *testing.T) {
	f := newFixture(t)

	// 放大后的模板直接做相关性匹配会失败
	ok, err := PerfectMatchTemplate(f.scene, f.scaled, WithSimilarity(0.95))
	if err != nil {
		t.Fatalf("PerfectMatchTemplate 失败: %v", err)
	}
	if ok {
		t.Log("放大模板直接匹配成功 (图像纹理较粗)")
	}

	ok, err = MatchTemplateIgnoreSize(f.scene, f.scaled, WithSimilarity(0.8))
	if err != nil {
		t.Fatalf("MatchTemplateIgnoreSize 失败: %v", err)
	}
	if !ok {
		t.Error("缩放后应匹配")
	}
}

func TestMatSurface(t *testing.T) {
	scene := syntheticScene()
	defer scene.Close()
	region := scene.Region(image.Rect(cropX, cropY, cropX+cropW, cropY+cropH))
	tmpl := region.Clone()
	region.Close()
	defer tmpl.Close()

	score, err := Score(scene, tmpl)
	if err != nil {
		t.Fatalf("Score 失败: %v", err)
	}
	if score.Confidence < 0.99 || score.Rectangle.TopLeft() != (Point{X: cropX, Y: cropY}) {
		t.Errorf("Score 结果错误: %+v", score)
	}

	r, err := MatchTemplateMat(scene, tmpl)
	if err != nil || !r.Matched || r.Corners == nil {
		t.Errorf("MatchTemplateMat 错误: %+v, %v", r, err)
	}

	r, err = FuzzyMatchMat(scene, tmpl, WithSolver(planar.NewRANSACSolver()))
	if err != nil {
		t.Fatalf("FuzzyMatchMat 失败: %v", err)
	}
	if !r.Matched || r.Pairs < planar.MinPairs {
		t.Errorf("FuzzyMatchMat 应定位成功: %+v", r)
	}

	kr, err := LocateMat(scene, tmpl)
	if err != nil {
		t.Fatalf("LocateMat 失败: %v", err)
	}
	if !kr.Found() || len(kr.Template) == 0 || len(kr.Scene) == 0 {
		t.Errorf("LocateMat 结果不完整: found=%v", kr.Found())
	}

	if _, err := MatchIgnoreSizeMat(scene, tmpl, WithSimilarity(2)); !errors.Is(err, ErrInvalidSimilarity) {
		t.Errorf("应返回 ErrInvalidSimilarity, 实际 %v", err)
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
