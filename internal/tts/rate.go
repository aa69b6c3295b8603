package tts

import (
	"fmt"
	"math"
)

// FormatRate 把语速百分比转换为 Edge TTS 的格式，如 -20 -> "-20%"，0 -> "+0%"。
func FormatRate(rate int) string {
	if rate < 0 {
		return fmt.Sprintf("%d%%", rate)
	}
	return fmt.Sprintf("+%d%%", rate)
}

// speedMultiplier 语速百分比对应的倍速，最低 0.1 倍。
func speedMultiplier(rate int) float64 {
	return math.Max(0.1, 1+float64(rate)/100)
}

// 腾讯云 Speed 参数与倍速的对应关系（取值 -2..6）。
var tencentSpeedTable = []struct {
	multiplier float64
	speed      float64
}{
	{0.6, -2},
	{0.8, -1},
	{1.0, 0},
	{1.2, 1},
	{1.5, 2},
	{2.5, 6},
}

// tencentSpeed 将语速百分比分段线性映射到腾讯云 Speed，保留两位小数。
func tencentSpeed(rate int) float64 {
	m := speedMultiplier(rate)
	first, last := tencentSpeedTable[0], tencentSpeedTable[len(tencentSpeedTable)-1]
	if m <= first.multiplier {
		return first.speed
	}
	if m >= last.multiplier {
		return last.speed
	}
	for i := 1; i < len(tencentSpeedTable); i++ {
		lo, hi := tencentSpeedTable[i-1], tencentSpeedTable[i]
		if m <= hi.multiplier {
			ratio := (m - lo.multiplier) / (hi.multiplier - lo.multiplier)
			return math.Round((lo.speed+ratio*(hi.speed-lo.speed))*100) / 100
		}
	}
	return 0
}

// piperLengthScale piper 的 length_scale 与倍速成反比。
func piperLengthScale(rate int) float64 {
	return math.Round(100/speedMultiplier(rate)) / 100
}
