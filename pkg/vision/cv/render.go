package cv

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"gocv.io/x/gocv"
	"golang.org/x/image/font"

	"github.com/zoeyai/imagematch/internal/logger"
	"github.com/zoeyai/imagematch/pkg/vision/feature"
)

var (
	colorRed   = color.RGBA{255, 0, 0, 255}
	colorGreen = color.RGBA{0, 200, 0, 255}
	colorWhite = color.RGBA{255, 255, 255, 255}
)

// 常见系统字体路径，按顺序尝试
var fontPaths = []string{
	// Linux
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/TTF/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
	// macOS
	"/System/Library/Fonts/Supplemental/Arial.ttf",
	"/Library/Fonts/Arial.ttf",
	// Windows
	"C:\\Windows\\Fonts\\arial.ttf",
}

var (
	fontMu    sync.Mutex
	fontCache = map[string]*truetype.Font{}
)

// loadFont 加载第一个可用的字体，extra 优先，全部失败时返回 nil
func loadFont(extra string) *truetype.Font {
	paths := fontPaths
	if extra != "" {
		paths = append([]string{extra}, fontPaths...)
	}
	for _, path := range paths {
		if f := parseFontFile(path); f != nil {
			return f
		}
	}
	logger.Debug("未找到可用字体，结果图不绘制文字")
	return nil
}

// parseFontFile 按文件路径缓存解析结果，失败也缓存
func parseFontFile(path string) *truetype.Font {
	fontMu.Lock()
	defer fontMu.Unlock()

	if f, ok := fontCache[path]; ok {
		return f
	}
	var f *truetype.Font
	if data, err := os.ReadFile(path); err == nil {
		if parsed, err := truetype.Parse(data); err == nil {
			f = parsed
		}
	}
	fontCache[path] = f
	return f
}

// Renderer 把匹配结果绘制成图片
type Renderer struct {
	// OutputDir 输出目录
	OutputDir string
	// FontPath 优先使用的字体文件
	FontPath string
	// FontSize 文字大小
	FontSize float64
}

// NewRenderer 创建结果绘制器
func NewRenderer(outputDir string) *Renderer {
	if outputDir == "" {
		outputDir = "."
	}
	return &Renderer{
		OutputDir: outputDir,
		FontSize:  18,
	}
}

// RenderTemplateMatch 在场景图上框出相关性匹配区域并标注分数
func (r *Renderer) RenderTemplateMatch(scene gocv.Mat, result *MatchResult, matched bool) (string, error) {
	canvas := ToBGR(scene)
	defer canvas.Close()

	if result != nil {
		tl, br := result.Rectangle.TopLeft(), result.Rectangle.BottomRight()
		gocv.Rectangle(&canvas, image.Rect(tl.X, tl.Y, br.X, br.Y), colorRed, 3)
	}

	label := "no match"
	if result != nil {
		label = fmt.Sprintf("score %.4f", result.Confidence)
	}
	return r.save(canvas, label, matched)
}

// RenderCorrespondence 模板在上、场景在下拼接，画出定位四边形和特征对应连线
func (r *Renderer) RenderCorrespondence(template, scene gocv.Mat, kr *KeypointResult) (string, error) {
	tw, th := template.Cols(), template.Rows()
	sw, sh := scene.Cols(), scene.Rows()

	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), th+sh, max(tw, sw), gocv.MatTypeCV8UC3)
	defer canvas.Close()

	pasteBGR(&canvas, template, image.Rect(0, 0, tw, th))
	pasteBGR(&canvas, scene, image.Rect(0, th, sw, th+sh))

	found := kr.Found()
	if found {
		q := kr.Location.Corners
		for i := 0; i < 4; i++ {
			p1, p2 := q[i], q[(i+1)%4]
			gocv.Line(&canvas, image.Pt(p1.X, p1.Y+th), image.Pt(p2.X, p2.Y+th), colorRed, 2)
		}
	}

	if kr != nil {
		for _, p := range pairsOf(kr) {
			tk := kr.Template[p.TemplateIndex].Keypoint
			sk := kr.Scene[p.SceneIndex].Keypoint
			gocv.Line(&canvas,
				image.Pt(int(tk.X), int(tk.Y)),
				image.Pt(int(sk.X), int(sk.Y)+th),
				colorRed, 1)
		}
	}

	label := "not found"
	if found {
		label = fmt.Sprintf("found, %d pairs", len(kr.Location.Pairs))
	}
	return r.save(canvas, label, found)
}

// pairsOf 找到时用定位结果中的对应，未找到时重新计算以便查看
func pairsOf(kr *KeypointResult) []feature.Correspondence {
	if kr.Location != nil {
		return kr.Location.Pairs
	}
	pairs, err := feature.NewMatcher().FindPairs(kr.Template, kr.Scene)
	if err != nil {
		return nil
	}
	return pairs
}

func pasteBGR(canvas *gocv.Mat, src gocv.Mat, rect image.Rectangle) {
	bgr := ToBGR(src)
	defer bgr.Close()
	roi := canvas.Region(rect)
	defer roi.Close()
	bgr.CopyTo(&roi)
}

// save 绘制文字后保存为 <unix>_match_result.png
func (r *Renderer) save(canvas gocv.Mat, label string, ok bool) (string, error) {
	img, err := canvas.ToImage()
	if err != nil {
		return "", fmt.Errorf("Mat 转换失败: %w", err)
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	col := colorRed
	if ok {
		col = colorGreen
	}
	r.drawLabel(rgba, 8, 8, label, col)

	if err := os.MkdirAll(r.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}
	path := filepath.Join(r.OutputDir, fmt.Sprintf("%d_match_result.png", time.Now().Unix()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("创建结果图失败: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, rgba); err != nil {
		return "", fmt.Errorf("PNG 编码失败: %w", err)
	}
	logger.Debug("结果图已保存: %s", path)
	return path, nil
}

// drawLabel 在左上角绘制带底色的文字
func (r *Renderer) drawLabel(img *image.RGBA, x, y int, text string, col color.Color) {
	f := loadFont(r.FontPath)
	if f == nil {
		return
	}
	size := r.FontSize
	if size <= 0 {
		size = 18
	}

	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(f)
	c.SetFontSize(size)
	c.SetClip(img.Bounds())
	c.SetDst(img)
	c.SetHinting(font.HintingFull)

	// 底色
	bg := image.Rect(x-4, y-4, x+int(size*0.6)*len(text)+4, y+int(size)+6)
	draw.Draw(img, bg.Intersect(img.Bounds()), image.NewUniform(colorWhite), image.Point{}, draw.Src)

	c.SetSrc(image.NewUniform(col))
	pt := freetype.Pt(x, y+int(c.PointToFixed(size)>>6))
	if _, err := c.DrawString(text, pt); err != nil {
		logger.Debug("绘制文字失败: %v", err)
	}
}
