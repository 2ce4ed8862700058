package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"github.com/zoeyai/imagematch/internal/logger"
	"github.com/zoeyai/imagematch/pkg/auto/screen"
	"github.com/zoeyai/imagematch/pkg/config"
	"github.com/zoeyai/imagematch/pkg/vision"
	"github.com/zoeyai/imagematch/pkg/vision/cv"
	"github.com/zoeyai/imagematch/pkg/vision/planar"
)

// 版本信息 (可通过 ldflags 注入)
var (
	Version   = vision.Version
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 退出码
const (
	exitMatch   = 0
	exitNoMatch = 1
	exitError   = 2
)

// 匹配模式
const (
	modePerfect    = "perfect"
	modeTemplate   = "template"
	modeFuzzy      = "fuzzy"
	modeIgnoreSize = "ignore-size"
	modeLocate     = "locate"
)

func main() {
	os.Exit(run())
}

// cliFlags 命令行参数
type cliFlags struct {
	mode        *string
	scenePath   *string
	tmplPath    *string
	useScreen   *bool
	region      *string
	similarity  *float64
	ratio       *float64
	reproj      *float64
	workers     *int
	output      *bool
	outputDir   *string
	rgb         *bool
	pureGo      *bool
	logLevel    *string
	asJSON      *bool
	saveConfig  *bool
	showVersion *bool
	showHelp    *bool
}

func defineFlags(fs *flag.FlagSet) *cliFlags {
	return &cliFlags{
		mode:        fs.String("mode", modeTemplate, "匹配模式: perfect | template | fuzzy | ignore-size | locate"),
		scenePath:   fs.String("scene", "", "场景图像路径"),
		tmplPath:    fs.String("template", "", "模板图像路径"),
		useScreen:   fs.Bool("screen", false, "截取屏幕作为场景"),
		region:      fs.String("region", "", "截图区域 x,y,w,h (配合 -screen)"),
		similarity:  fs.Float64("similarity", 0, "最低相似度 (0.1 - 1.0)"),
		ratio:       fs.Float64("ratio", 0, "最近邻比率测试阈值"),
		reproj:      fs.Float64("reproj", 0, "最大重投影误差 (像素)"),
		workers:     fs.Int("workers", 0, "对应查找并发数"),
		output:      fs.Bool("output", false, "输出结果图"),
		outputDir:   fs.String("output-dir", "", "结果图目录"),
		rgb:         fs.Bool("rgb", false, "相关性匹配逐通道校验"),
		pureGo:      fs.Bool("pure-go", false, "使用纯 Go 的单应性估计"),
		logLevel:    fs.String("log-level", "", "日志级别: DEBUG | INFO | WARN | ERROR"),
		asJSON:      fs.Bool("json", false, "以 JSON 输出结果"),
		saveConfig:  fs.Bool("save", false, "保存配置到本地"),
		showVersion: fs.Bool("version", false, "显示版本信息"),
		showHelp:    fs.Bool("help", false, "显示帮助信息"),
	}
}

// applyFlagOverrides 显式设置的命令行参数覆盖配置文件
func applyFlagOverrides(cfg *config.MatchConfig, fs *flag.FlagSet, f *cliFlags) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "similarity":
			cfg.Similarity = *f.similarity
		case "ratio":
			cfg.Ratio = *f.ratio
		case "reproj":
			cfg.ReprojThreshold = *f.reproj
		case "workers":
			cfg.Workers = *f.workers
		case "output-dir":
			cfg.OutputDir = *f.outputDir
		case "log-level":
			cfg.LogLevel = *f.logLevel
		}
	})
}

func run() int {
	f := defineFlags(flag.CommandLine)
	flag.Parse()

	if *f.showVersion {
		printVersion()
		return exitMatch
	}
	if *f.showHelp {
		printHelp()
		return exitMatch
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		logger.Warn("加载配置失败: %v", err)
	}

	// 命令行参数优先级高于配置文件
	applyFlagOverrides(cfg, flag.CommandLine, f)
	if err := cfg.Validate(); err != nil {
		logger.Error("%v", err)
		return exitError
	}

	if err := setupLogger(cfg); err != nil {
		logger.Error("%v", err)
		return exitError
	}
	defer logger.Default().Close()

	if *f.saveConfig {
		if err := config.Save(cfg); err != nil {
			logger.Warn("保存配置失败: %v", err)
		} else {
			logger.Info("配置已保存到 %s", config.GetDefaultManager().GetConfigFile())
		}
	}

	if *f.tmplPath == "" || (*f.scenePath == "" && !*f.useScreen) {
		logger.Error("缺少输入，请使用 -template 和 -scene (或 -screen) 指定")
		printHelp()
		return exitError
	}

	opts := append(vision.FromConfig(cfg), vision.WithOutput(*f.output), vision.WithRGB(*f.rgb))
	if *f.pureGo {
		opts = append(opts, vision.WithSolver(planar.NewRANSACSolver()))
	}

	var result *vision.Result
	if *f.useScreen {
		result, err = matchScreen(*f.mode, *f.region, *f.tmplPath, opts)
	} else {
		result, err = matchFiles(*f.mode, *f.scenePath, *f.tmplPath, opts)
	}
	if err != nil {
		logger.Error("%v", err)
		return exitError
	}

	printResult(result, *f.asJSON)
	if !result.Matched {
		return exitNoMatch
	}
	return exitMatch
}

func setupLogger(cfg *config.MatchConfig) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.Default().SetLevel(level)
	if cfg.LogFile != "" {
		return logger.Default().SetFile(cfg.LogFile)
	}
	return nil
}

// matchFiles 场景来自文件
func matchFiles(mode, scenePath, tmplPath string, opts []vision.Option) (*vision.Result, error) {
	var (
		ok  bool
		err error
	)
	switch mode {
	case modePerfect:
		ok, err = vision.PerfectMatch(scenePath, tmplPath, opts...)
	case modeTemplate:
		ok, err = vision.PerfectMatchTemplate(scenePath, tmplPath, opts...)
	case modeFuzzy:
		ok, err = vision.FuzzyMatchTemplate(scenePath, tmplPath, opts...)
	case modeIgnoreSize:
		ok, err = vision.MatchTemplateIgnoreSize(scenePath, tmplPath, opts...)
	case modeLocate:
		loc, err := vision.GetObjectLocation(scenePath, tmplPath, opts...)
		if err != nil {
			return nil, err
		}
		if loc == nil {
			return &vision.Result{}, nil
		}
		corners := loc.Corners
		return &vision.Result{Matched: true, Corners: &corners, Pairs: len(loc.Pairs)}, nil
	default:
		return nil, fmt.Errorf("未知模式: %s", mode)
	}
	if err != nil {
		return nil, err
	}
	return &vision.Result{Matched: ok}, nil
}

// captureFunc 截图函数
type captureFunc func(*screen.Region) (gocv.Mat, screen.CaptureMeta, error)

// grayScene 特征点模式只需要灰度场景
func grayScene(mode string) bool {
	return mode == modeFuzzy || mode == modeLocate
}

// captureFor 按模式选择截图方式
func captureFor(mode string) captureFunc {
	if grayScene(mode) {
		return screen.CaptureGray
	}
	return screen.Capture
}

// eventCategory 模式对应的日志分类
func eventCategory(mode string) string {
	switch mode {
	case modePerfect:
		return vision.CategoryPerfect
	case modeFuzzy, modeLocate:
		return vision.CategoryFuzzy
	case modeIgnoreSize:
		return vision.CategoryIgnoreSize
	default:
		return vision.CategoryTemplate
	}
}

// matchScreen 场景来自截图，结果坐标转换为屏幕坐标
func matchScreen(mode, regionSpec, tmplPath string, opts []vision.Option) (*vision.Result, error) {
	startTime := time.Now()
	result, err := captureAndMatch(mode, regionSpec, tmplPath, opts)

	matched := err == nil && result != nil && result.Matched
	elapsed := float64(time.Since(startTime).Microseconds()) / 1000
	logger.LogEvent(eventCategory(mode), matched, err, elapsed, "screen <- "+filepath.Base(tmplPath))
	return result, err
}

func captureAndMatch(mode, regionSpec, tmplPath string, opts []vision.Option) (*vision.Result, error) {
	r, err := parseRegion(regionSpec)
	if err != nil {
		return nil, err
	}

	scene, meta, err := captureFor(mode)(r)
	if err != nil {
		return nil, err
	}
	defer scene.Close()

	if _, err := os.Stat(tmplPath); err != nil {
		return nil, fmt.Errorf("%w: %s", vision.ErrFileNotFound, tmplPath)
	}
	read := cv.ReadImage
	if grayScene(mode) {
		read = cv.ReadImageGray
	}
	tmpl, err := read(tmplPath)
	if err != nil {
		return nil, err
	}
	defer tmpl.Close()

	result, err := matchMat(mode, scene, tmpl, opts)
	if err != nil || result == nil {
		return result, err
	}
	if result.Corners != nil {
		adjusted := screen.AdjustQuad(*result.Corners, meta)
		result.Corners = &adjusted
	}
	return result, nil
}

func matchMat(mode string, scene, tmpl gocv.Mat, opts []vision.Option) (*vision.Result, error) {
	switch mode {
	case modePerfect:
		if scene.Rows() != tmpl.Rows() || scene.Cols() != tmpl.Cols() {
			return &vision.Result{}, nil
		}
		return vision.MatchTemplateMat(scene, tmpl, opts...)
	case modeTemplate:
		return vision.MatchTemplateMat(scene, tmpl, opts...)
	case modeFuzzy, modeLocate:
		return vision.FuzzyMatchMat(scene, tmpl, opts...)
	case modeIgnoreSize:
		return vision.MatchIgnoreSizeMat(scene, tmpl, opts...)
	default:
		return nil, fmt.Errorf("未知模式: %s", mode)
	}
}

// parseRegion 解析 x,y,w,h，空字符串表示全屏
func parseRegion(input string) (*screen.Region, error) {
	if input == "" {
		return nil, nil
	}
	parts := strings.Split(input, ",")
	if len(parts) != 4 {
		return nil, errors.New("区域格式应为 x,y,w,h")
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("区域参数无效 %q: %w", p, err)
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return nil, fmt.Errorf("区域尺寸无效: %dx%d", v[2], v[3])
	}
	return &screen.Region{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

func printResult(r *vision.Result, asJSON bool) {
	if asJSON {
		data, _ := json.Marshal(r)
		fmt.Println(string(data))
		return
	}

	if !r.Matched {
		fmt.Println("未匹配")
		return
	}
	fmt.Println("匹配成功")
	if r.Score > 0 {
		fmt.Printf("相似度: %.4f\n", r.Score)
	}
	if r.Corners != nil {
		q := r.Corners
		fmt.Printf("位置: 左上%v 右上%v 右下%v 左下%v\n", q.TopLeft(), q.TopRight(), q.BottomRight(), q.BottomLeft())
	}
	if r.Pairs > 0 {
		fmt.Printf("特征对应: %d\n", r.Pairs)
	}
	if r.OutputPath != "" {
		fmt.Printf("结果图: %s\n", r.OutputPath)
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("imagematch v%s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("imagematch - 在场景图中查找模板图像")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  imagematch -template FILE (-scene FILE | -screen) [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  # 相关性模板匹配")
	fmt.Println("  imagematch -scene screen.png -template logo.png -similarity 0.95")
	fmt.Println()
	fmt.Println("  # 在当前屏幕上定位模板并输出结果图")
	fmt.Println("  imagematch -screen -mode locate -template button.png -output")
	fmt.Println()
	fmt.Println("退出码: 0 匹配, 1 未匹配, 2 出错")
	fmt.Printf("配置文件位置: %s\n", config.GetDefaultManager().GetConfigFile())
}
