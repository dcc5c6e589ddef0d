package player

import (
	"context"

	"github.com/ecousins25/ogmash-v2/core/buffer"
)

// MediaEvents 是媒体资源生命周期回调。
// 所有回调都在媒体资源自己的事件流上按到达顺序触发。
type MediaEvents struct {
	OnCanPlay    func()                        // 数据足够开始播放
	OnProgress   func(regions []buffer.Region) // 缓冲区间变化
	OnTimeUpdate func(position float64)        // 播放位置推进
	OnWaiting    func()                        // 缓冲开始，播放停滞
	OnPlaying    func()                        // 缓冲结束，播放恢复
	OnEnded      func()                        // 播到曲目末尾
	OnError      func(err error)               // 媒体错误，错误值归入本包的分类
}

// Media 是单个媒体资源的抽象。
// 会话通过它驱动播放，不关心字节从哪里来。
type Media interface {
	// Load 开始拉取数据；可播放或失败通过事件通知
	Load(ctx context.Context) error
	// Play 开始推进播放位置
	Play() error
	// Pause 暂停播放位置推进
	Pause()
	// SetPosition 直接设定播放位置（秒）
	SetPosition(pos float64)
	Position() float64
	Duration() float64
	// Buffered 返回当前已缓冲的媒体时间区间
	Buffered() []buffer.Region
	// BytesLoaded 返回已下载的字节数，用于网络采样
	BytesLoaded() int64
	// Subscribe 注册事件回调，返回的取消函数幂等且绝不 panic
	Subscribe(ev MediaEvents) (cancel func())
	// Close 释放资源，幂等
	Close()
}

// MediaOpener 按逻辑路径打开媒体资源，每首曲目一个新实例
type MediaOpener interface {
	Open(path string) (Media, error)
}

// StrategyAware 由支持按缓冲策略调节预取力度的媒体实现
type StrategyAware interface {
	SetStrategy(s buffer.Strategy)
}
