// Package cv 基于 OpenCV (gocv) 提供图像匹配所需的外部能力
//
// 包含:
//   - SIFT 特征提取 (关键点 + 描述子 + Laplacian 符号)
//   - RANSAC 单应性矩阵估计
//   - TM_CCOEFF_NORMED 相关性模板匹配
//   - 图像读写、缩放与匹配结果绘制
//
// 基本用法:
//
//	scene, _ := cv.ReadImageGray("scene.png")
//	tmpl, _ := cv.ReadImageGray("box.png")
//	m := cv.NewKeypointMatching(tmpl, scene, cv.DefaultKeypointParams())
//	defer m.Close()
//	result, err := m.Locate()
//	if err == nil && result.Location != nil {
//	    fmt.Println(result.Location.Corners)
//	}
package cv
