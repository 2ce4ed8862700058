// Package feature 提供局部特征描述子的对应关系查找
//
// 模板与场景各自提取一组特征 (关键点 + 描述子)，本包负责:
//   - 计算描述子之间的平方欧氏距离 (支持提前终止)
//   - 最近邻搜索与比率测试
//   - 构建模板到场景的对应点列表
package feature

import (
	"errors"
	"fmt"
)

// ErrDescriptorLength 描述子长度非法 (长度不一致或不是 4 的倍数)
var ErrDescriptorLength = errors.New("描述子长度非法")

// Keypoint 关键点
type Keypoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	// Laplacian 方向符号 (+1 / -1)，只有符号相同的特征才会比较距离
	Laplacian int `json:"laplacian"`
}

// Descriptor 特征描述子，长度必须是 4 的倍数
type Descriptor []float32

// Feature 一个关键点及其描述子
type Feature struct {
	Keypoint   Keypoint   `json:"keypoint"`
	Descriptor Descriptor `json:"descriptor"`
}

// Set 一张图像的全部特征
type Set []Feature

// DescriptorLength 返回描述子长度，空集合返回 0
func (s Set) DescriptorLength() int {
	if len(s) == 0 {
		return 0
	}
	return len(s[0].Descriptor)
}

// Validate 检查所有描述子长度一致且为 4 的倍数
func (s Set) Validate() error {
	if len(s) == 0 {
		return nil
	}
	length := s.DescriptorLength()
	if length == 0 || length%4 != 0 {
		return fmt.Errorf("%w: 长度 %d 不是 4 的正整数倍", ErrDescriptorLength, length)
	}
	for i, f := range s {
		if len(f.Descriptor) != length {
			return fmt.Errorf("%w: 第 %d 个描述子长度 %d, 期望 %d", ErrDescriptorLength, i, len(f.Descriptor), length)
		}
	}
	return nil
}

// Correspondence 模板特征与场景特征的一组对应
type Correspondence struct {
	TemplateIndex int `json:"template_index"`
	SceneIndex    int `json:"scene_index"`
}
