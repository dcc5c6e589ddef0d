// Package sequencer 决定播放列表中的下一首曲目。
// 它只做纯粹的换曲决策：返回下一个索引，由调用方提交状态变更；
// 洗牌顺序是本包唯一持有的簿记，对调用方不可见。
package sequencer

import (
	"math/rand"
	"time"
)

// Mode 是播放模式
type Mode int

const (
	ModeSequential Mode = iota // 顺序播放
	ModeShuffle                // 随机播放
	ModePreview                // 试听模式，每首只播固定窗口
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeSequential:
		return "sequential"
	case ModeShuffle:
		return "shuffle"
	case ModePreview:
		return "preview"
	default:
		return "unknown"
	}
}

// PreviewWindow 是试听模式下每首曲目的播放窗口。
// 计时由调用方负责，sequencer 本身不依赖时间。
const PreviewWindow = 10 * time.Second

// Sequencer 在给定模式和循环开关下计算下一个曲目索引
type Sequencer struct {
	mode   Mode
	repeat bool
	size   int
	order  []int // 洗牌顺序，仅随机模式下非空
	rng    *rand.Rand
}

// New 创建 Sequencer，size 为播放列表长度
func New(size int, mode Mode, repeat bool) *Sequencer {
	s := &Sequencer{
		mode:   mode,
		repeat: repeat,
		size:   size,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if mode == ModeShuffle {
		s.reshuffle()
	}
	return s
}

// Mode 返回当前播放模式
func (s *Sequencer) Mode() Mode { return s.mode }

// Repeat 返回当前循环开关
func (s *Sequencer) Repeat() bool { return s.repeat }

// SetMode 切换播放模式。
// 调用方必须随之做完整会话重置（索引归零、停止播放）；
// 进入随机模式时生成新的洗牌顺序。
func (s *Sequencer) SetMode(mode Mode) {
	s.mode = mode
	if mode == ModeShuffle {
		s.reshuffle()
	} else {
		s.order = nil
	}
}

// SetRepeat 切换循环开关，同样要求调用方做完整会话重置
func (s *Sequencer) SetRepeat(repeat bool) {
	s.repeat = repeat
	if s.mode == ModeShuffle {
		s.reshuffle()
	}
}

// SetSize 在播放列表成员变化时更新长度，随机模式下重新洗牌
func (s *Sequencer) SetSize(size int) {
	s.size = size
	if s.mode == ModeShuffle {
		s.reshuffle()
	}
}

// Next 计算 currentIndex 之后的下一个索引。
// ok 为 false 表示正常到达终点（非循环模式播完），不是错误。
func (s *Sequencer) Next(currentIndex int) (next int, ok bool) {
	if s.size == 0 {
		return 0, false
	}

	if s.mode == ModeShuffle {
		return s.nextShuffled(currentIndex)
	}

	// 顺序模式与试听模式的推进规则一致，
	// 试听的10秒窗口由调用方强制触发曲终信号
	next = currentIndex + 1
	if next >= s.size {
		if s.repeat {
			return 0, true
		}
		return currentIndex, false
	}
	return next, true
}

// nextShuffled 沿洗牌顺序环形走到下一个索引
func (s *Sequencer) nextShuffled(currentIndex int) (int, bool) {
	if len(s.order) != s.size {
		s.reshuffle()
	}

	pos := 0
	for i, idx := range s.order {
		if idx == currentIndex {
			pos = i
			break
		}
	}

	if pos == len(s.order)-1 {
		// 走完整个洗牌顺序：非循环模式在此停止
		if s.repeat {
			return s.order[0], true
		}
		return currentIndex, false
	}
	return s.order[pos+1], true
}

// JumpTo 处理用户直接选曲：把洗牌顺序旋转到以 index 为头，
// 保持后续随机走序的连续性且不重复。
// 非循环模式下的终点取旋转后顺序的末尾元素。
func (s *Sequencer) JumpTo(index int) {
	if s.mode != ModeShuffle || len(s.order) == 0 {
		return
	}

	pos := -1
	for i, idx := range s.order {
		if idx == index {
			pos = i
			break
		}
	}
	if pos <= 0 {
		return
	}

	rotated := make([]int, 0, len(s.order))
	rotated = append(rotated, s.order[pos:]...)
	rotated = append(rotated, s.order[:pos]...)
	s.order = rotated
}

// Reset 做完整重置：随机模式下重新洗牌。
// 调用方负责把索引归零并停止播放。
func (s *Sequencer) Reset() {
	if s.mode == ModeShuffle {
		s.reshuffle()
	}
}

// Order 返回洗牌顺序的副本，仅用于观测
func (s *Sequencer) Order() []int {
	out := make([]int, len(s.order))
	copy(out, s.order)
	return out
}

// reshuffle 用 Fisher–Yates 生成 [0, size) 的均匀随机排列
func (s *Sequencer) reshuffle() {
	s.order = make([]int, s.size)
	for i := range s.order {
		s.order[i] = i
	}
	for i := s.size - 1; i > 0; i-- {
		j := s.rng.Intn(i + 1)
		s.order[i], s.order[j] = s.order[j], s.order[i]
	}
}
