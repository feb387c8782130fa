package geo

import "math"

// EarthRadius 地球平均半径（米）
const EarthRadius = 6372795.0

// scale 整数坐标的缩放系数（度 × 1e7）
const scale = 1e7

// FromScaled 将 度×1e7 的整数坐标转换为度
func FromScaled(v int32) float64 {
	return float64(v) / scale
}

// Distance 计算两点之间的大圆距离（米），输入为度
// 使用 atan2 形式的球面余弦定理，数值上对近距离点更稳定
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	lat1, lng1 = radians(lat1), radians(lng1)
	lat2, lng2 = radians(lat2), radians(lng2)

	cos1, sin1 := math.Cos(lat1), math.Sin(lat1)
	cos2, sin2 := math.Cos(lat2), math.Sin(lat2)

	dlng := lng1 - lng2
	cosDlng := math.Cos(dlng)

	y1 := cos2 * math.Sin(dlng)
	y2 := cos1*sin2 - sin1*cos2*cosDlng

	y := math.Sqrt(y1*y1 + y2*y2)
	x := sin1*sin2 + cos1*cos2*cosDlng

	return math.Atan2(y, x) * EarthRadius
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
