package feature

// Distance 计算两个描述子的平方欧氏距离
//
// 每次累加 4 个分量，累计值一旦超过 bound 立即返回。返回值大于 bound 时
// 只能说明"没有更优"，它不是精确距离。
// 长度不一致或不是 4 的倍数属于调用方错误，直接 panic。
func Distance(a, b Descriptor, bound float64) float64 {
	n := len(a)
	if n != len(b) || n%4 != 0 {
		panic("feature: 描述子长度不一致或不是 4 的倍数")
	}

	total := 0.0
	for i := 0; i < n; i += 4 {
		t0 := float64(a[i] - b[i])
		t1 := float64(a[i+1] - b[i+1])
		t2 := float64(a[i+2] - b[i+2])
		t3 := float64(a[i+3] - b[i+3])
		total += t0*t0 + t1*t1 + t2*t2 + t3*t3
		if total > bound {
			break
		}
	}
	return total
}
