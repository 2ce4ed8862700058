// Package screen 截取屏幕作为匹配场景
package screen

import (
	"fmt"
	"image"

	"github.com/disintegration/gift"
	"github.com/go-vgo/robotgo"
	"gocv.io/x/gocv"

	"github.com/zoeyai/imagematch/pkg/vision/cv"
)

// Region 屏幕区域
type Region struct {
	X, Y          int
	Width, Height int
}

// CaptureScreen 截取全屏
func CaptureScreen() (image.Image, error) {
	img, err := robotgo.CaptureImg()
	if err != nil {
		return nil, fmt.Errorf("截屏失败: %w", err)
	}
	return img, nil
}

// CaptureRegion 截取屏幕区域
func CaptureRegion(r Region) (image.Image, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("区域尺寸无效: %dx%d", r.Width, r.Height)
	}
	img, err := robotgo.CaptureImg(r.X, r.Y, r.Width, r.Height)
	if err != nil {
		return nil, fmt.Errorf("截取区域失败: %w", err)
	}
	return img, nil
}

// GetScreenSize 获取屏幕尺寸
func GetScreenSize() (width, height int) {
	return robotgo.GetScreenSize()
}

// Capture 截图并转换为 BGR 格式的 gocv.Mat，region 为 nil 时截取全屏
func Capture(region *Region) (gocv.Mat, CaptureMeta, error) {
	img, err := capture(region)
	if err != nil {
		return gocv.Mat{}, CaptureMeta{}, err
	}

	mat, err := cv.ImageToMat(img)
	if err != nil {
		return gocv.Mat{}, CaptureMeta{}, err
	}
	return mat, metaFor(region, img), nil
}

// CaptureGray 截图并转换为灰度 gocv.Mat
func CaptureGray(region *Region) (gocv.Mat, CaptureMeta, error) {
	img, err := capture(region)
	if err != nil {
		return gocv.Mat{}, CaptureMeta{}, err
	}

	mat, err := cv.GrayImageToMat(ToGray(img))
	if err != nil {
		return gocv.Mat{}, CaptureMeta{}, err
	}
	return mat, metaFor(region, img), nil
}

// ToGray 转换为灰度图
func ToGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok {
		return gray
	}
	g := gift.New(gift.Grayscale())
	dst := image.NewGray(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

func capture(region *Region) (image.Image, error) {
	if region != nil {
		return CaptureRegion(*region)
	}
	return CaptureScreen()
}

func metaFor(region *Region, img image.Image) CaptureMeta {
	w, h := GetScreenSize()
	return BuildCaptureMeta(region, img.Bounds().Dx(), img.Bounds().Dy(), w, h)
}
