// Package buffer 根据观测到的网络吞吐推导缓冲策略。
// 策略是纯函数，每次网络采样变化时重新计算，不持有任何状态。
package buffer

import (
	"fmt"
	"time"
)

// NetworkStats 是一次播放采样推导出的网络状况
type NetworkStats struct {
	DownlinkMbps  float64   // 下行带宽估计
	EffectiveType string    // "4g" / "3g" / "2g"
	RTTMs         float64   // 往返时延估计
	FillRate      float64   // 缓冲填充速率，字节/秒
	LastRebuffer  time.Time // 最近一次卡顿时间，零值表示从未卡顿
}

// Strategy 是客户端会话消费的缓冲阈值，单位均为秒
type Strategy struct {
	MinBuffer     float64
	MaxBuffer     float64
	RebufferPoint float64
	Reason        string
}

// Region 表示一段本地已缓冲的媒体时间区间
type Region struct {
	Start float64
	End   float64
}

// StrategyFor 按下行带宽三档生成缓冲策略：
// 带宽越低，缓冲越保守
func StrategyFor(stats NetworkStats) Strategy {
	downlink := stats.DownlinkMbps
	switch {
	case downlink > 5:
		return Strategy{
			MinBuffer:     2,
			MaxBuffer:     10,
			RebufferPoint: 3,
			Reason:        fmt.Sprintf("fast network (%.1f Mbps), minimal buffering", downlink),
		}
	case downlink > 2:
		return Strategy{
			MinBuffer:     5,
			MaxBuffer:     15,
			RebufferPoint: 5,
			Reason:        fmt.Sprintf("moderate network (%.1f Mbps), balanced buffering", downlink),
		}
	default:
		return Strategy{
			MinBuffer:     15,
			MaxBuffer:     30,
			RebufferPoint: 10,
			Reason:        fmt.Sprintf("slow network (%.1f Mbps), aggressive buffering", downlink),
		}
	}
}

// DeriveStats 由前后两次字节计数和间隔时间推导网络状况
func DeriveStats(lastBytes, currentBytes int64, elapsed time.Duration, lastRebuffer time.Time) NetworkStats {
	var mbps float64
	if elapsed > 0 && currentBytes > lastBytes {
		bytesPerSec := float64(currentBytes-lastBytes) / elapsed.Seconds()
		mbps = bytesPerSec * 8 / (1024 * 1024)
	}

	effectiveType := "2g"
	switch {
	case mbps > 5:
		effectiveType = "4g"
	case mbps > 2:
		effectiveType = "3g"
	}

	var fillRate float64
	if elapsed > 0 {
		fillRate = float64(currentBytes-lastBytes) / elapsed.Seconds()
	}

	return NetworkStats{
		DownlinkMbps:  mbps,
		EffectiveType: effectiveType,
		FillRate:      fillRate,
		LastRebuffer:  lastRebuffer,
	}
}

// Healthy 判断缓冲是否健康：
// 第一个缓冲区间的末端超出当前位置 rebufferPoint 秒以上才算健康
func Healthy(regions []Region, currentPosition float64, s Strategy) bool {
	if len(regions) == 0 {
		return false
	}
	return regions[0].End-currentPosition > s.RebufferPoint
}
