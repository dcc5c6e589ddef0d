package player

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ecousins25/ogmash-v2/core/buffer"
	"github.com/ecousins25/ogmash-v2/logger"

	"github.com/google/uuid"
)

// Callbacks 是会话向宿主暴露的回调接口。
// 在构造时固定，内部重置逻辑永远不会清除它们；
// 只有 OnSongEnd 可以在运行期单独替换。
type Callbacks struct {
	OnPlaybackStats   func(currentTime, duration float64, isTransitioning, nextSongPreloaded bool)
	OnBufferingChange func(buffering bool)
	OnBufferProgress  func(percent float64)
	OnAudioDataUpdate func(snapshot Snapshot)
	OnSongEnd         func()
	OnPlaybackError   func(err error)
}

// Snapshot 是一次采样的完整播放状态
type Snapshot struct {
	State    State
	Network  buffer.NetworkStats
	Strategy buffer.Strategy
	Regions  []buffer.Region
	Position float64
	Duration float64
}

const (
	// 缓冲进度回调的去抖阈值：变化超过5个百分点或距上次超过1秒才触发
	progressDeltaPct = 5.0
	progressInterval = time.Second
	// 网络采样间隔
	sampleInterval = time.Second
)

// Session 是包装单个媒体资源的播放会话状态机。
// 同一时刻至多持有一套事件监听：换曲前先做完整拆除，
// 旧曲目的回调绝不会打到新曲目上。
type Session struct {
	mu     sync.Mutex
	opener MediaOpener
	cb     Callbacks

	state      State
	media      Media
	sub        *subscription
	path       string
	generation string // 每次 Load 换新，用于屏蔽过期的异步完成
	onSongEnd  func()

	endedFired    bool
	transitioning bool
	nextPreloaded bool

	lastEmitTime    time.Time
	lastEmitPct     float64
	lastSampleTime  time.Time
	lastSampleBytes int64
	lastRebuffer    time.Time
	netStats        buffer.NetworkStats
	strategy        buffer.Strategy
}

// NewSession 创建播放会话。回调在此固定。
func NewSession(opener MediaOpener, cb Callbacks) *Session {
	return &Session{
		opener:    opener,
		cb:        cb,
		onSongEnd: cb.OnSongEnd,
		state:     StateUninitialized,
		strategy:  buffer.StrategyFor(buffer.NetworkStats{}),
	}
}

// SetOnSongEnd 在运行期替换曲终回调，其余回调不受影响
func (s *Session) SetOnSongEnd(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSongEnd = fn
}

// MarkNextPreloaded 由宿主的预加载器标记下一首是否已就绪，
// 随播放统计回调透传给UI
func (s *Session) MarkNextPreloaded(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPreloaded = ready
}

// State 返回当前会话状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Position 返回当前播放位置（秒）
func (s *Session) Position() float64 {
	s.mu.Lock()
	media := s.media
	s.mu.Unlock()
	if media == nil {
		return 0
	}
	return media.Position()
}

// Duration 返回当前曲目时长（秒）
func (s *Session) Duration() float64 {
	s.mu.Lock()
	media := s.media
	s.mu.Unlock()
	if media == nil {
		return 0
	}
	return media.Duration()
}

// Load 加载新曲目：先完整拆除旧曲目的监听和媒体句柄，
// 然后等待可播放信号，成功后进入 Ready 并订阅生命周期事件。
func (s *Session) Load(ctx context.Context, path string) error {
	s.mu.Lock()
	s.teardownLocked()
	s.state = StateLoading
	s.path = path
	s.transitioning = true
	gen := uuid.NewString()
	s.generation = gen
	s.mu.Unlock()

	media, err := s.opener.Open(path)
	if err != nil {
		s.failLoad(gen, err)
		return fmt.Errorf("open %s: %w", path, err)
	}

	// 一次性等待：可播放与失败只会有一个先到
	ready := make(chan error, 1)
	var once sync.Once
	probe := newSubscription(media, MediaEvents{
		OnCanPlay: func() { once.Do(func() { ready <- nil }) },
		OnError:   func(err error) { once.Do(func() { ready <- err }) },
	})

	if err := media.Load(ctx); err != nil {
		probe.Cancel()
		media.Close()
		s.failLoad(gen, err)
		return fmt.Errorf("load %s: %w", path, err)
	}

	select {
	case <-ctx.Done():
		probe.Cancel()
		media.Close()
		s.failLoad(gen, ErrAborted)
		return ErrAborted
	case err = <-ready:
	}
	probe.Cancel()

	if err != nil {
		media.Close()
		s.failLoad(gen, err)
		return fmt.Errorf("load %s: %w", path, err)
	}

	s.mu.Lock()
	if s.generation != gen || s.state != StateLoading {
		// 等待期间来了新的 Load 或 Close，这次结果作废
		s.mu.Unlock()
		media.Close()
		return ErrAborted
	}

	s.media = media
	s.state = StateReady
	s.transitioning = false
	s.endedFired = false
	s.lastSampleTime = time.Now()
	s.lastSampleBytes = media.BytesLoaded()
	s.sub = newSubscription(media, s.lifecycleEvents(gen))
	s.mu.Unlock()

	logger.Info("曲目加载完成",
		logger.String("path", path),
		logger.Float64("duration", media.Duration()))
	return nil
}

// failLoad 把加载失败落到会话状态上，过期的失败被忽略
func (s *Session) failLoad(gen string, err error) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	s.transitioning = false
	path := s.path
	onError := s.cb.OnPlaybackError
	s.mu.Unlock()

	logger.Error("曲目加载失败", logger.String("path", path), logger.ErrorField(err))
	if onError != nil {
		onError(err)
	}
}

// Play 开始播放，未就绪时返回 ErrNotReady
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StatePlaying:
		return nil
	case StateReady, StatePaused, StateBuffering:
	default:
		return ErrNotReady
	}

	if err := s.media.Play(); err != nil {
		return err
	}
	s.state = StatePlaying
	return nil
}

// Resume 恢复播放，语义同 Play
func (s *Session) Resume() error {
	return s.Play()
}

// Pause 暂停播放；已暂停时是空操作
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying && s.state != StateBuffering {
		return
	}
	s.media.Pause()
	s.state = StatePaused
}

// Seek 跳转到指定时间。
// 未就绪或时间非法时记录日志后直接返回；
// 目标落在缓冲内时直接设定位置，否则走无缓冲跳转路径。
func (s *Session) Seek(ctx context.Context, t float64) {
	s.mu.Lock()

	if s.media == nil || (s.state != StateReady && s.state != StatePlaying && s.state != StatePaused) {
		state := s.state
		s.mu.Unlock()
		logger.Warn("seek 被忽略：会话未就绪", logger.String("state", state.String()))
		return
	}

	duration := s.media.Duration()
	if math.IsNaN(t) || math.IsInf(t, 0) || math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		s.mu.Unlock()
		logger.Warn("seek 被忽略：时间非法",
			logger.Float64("target", t),
			logger.Float64("duration", duration))
		return
	}

	// 收缩到 [0, duration]
	if t < 0 {
		t = 0
	}
	if t > duration {
		t = duration
	}

	if inRegions(s.media.Buffered(), t) {
		s.media.SetPosition(t)
		s.mu.Unlock()
		return
	}

	// 无缓冲跳转：解除位置监听，重新加载，等下一个可播放信号
	wasPlaying := s.state == StatePlaying
	gen := s.generation
	media := s.media
	sub := s.sub
	s.sub = nil
	s.state = StateSeeking
	s.mu.Unlock()

	sub.Cancel()
	media.Pause()
	media.SetPosition(t)

	ready := make(chan error, 1)
	var once sync.Once
	probe := newSubscription(media, MediaEvents{
		OnCanPlay: func() { once.Do(func() { ready <- nil }) },
		OnError:   func(err error) { once.Do(func() { ready <- err }) },
	})

	var err error
	if err = media.Load(ctx); err == nil {
		select {
		case <-ctx.Done():
			err = ErrAborted
		case err = <-ready:
		}
	}
	probe.Cancel()

	if err != nil {
		s.mu.Lock()
		stale := s.generation != gen
		if !stale {
			s.state = StateError
		}
		onError := s.cb.OnPlaybackError
		s.mu.Unlock()

		if stale {
			return
		}
		logger.Error("无缓冲跳转失败", logger.Float64("target", t), logger.ErrorField(err))
		if onError != nil {
			onError(err)
		}
		return
	}

	s.mu.Lock()
	if s.generation != gen {
		// 跳转期间会话被拆除，结果作废
		s.mu.Unlock()
		return
	}
	media.SetPosition(t)
	s.sub = newSubscription(media, s.lifecycleEvents(gen))
	s.state = StateReady
	s.mu.Unlock()

	if wasPlaying {
		if err := s.Play(); err != nil {
			logger.Warn("跳转后恢复播放失败", logger.ErrorField(err))
		}
	}
}

// Close 拆除会话：解除监听、释放媒体句柄。幂等。
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

// teardownLocked 做完整拆除。幂等，任何成员为空都安全。
// 回调配置是构造期固定的，这里刻意不碰。
func (s *Session) teardownLocked() {
	if s.sub != nil {
		sub := s.sub
		s.sub = nil
		sub.Cancel()
	}
	if s.media != nil {
		s.media.Close()
		s.media = nil
	}
	s.state = StateUninitialized
	s.generation = ""
	s.path = ""
	s.endedFired = false
	s.transitioning = false
	s.nextPreloaded = false
	s.lastEmitTime = time.Time{}
	s.lastEmitPct = 0
	s.lastSampleTime = time.Time{}
	s.lastSampleBytes = 0
}

// lifecycleEvents 构造持续生命周期的事件处理器。
// 每个处理器先校验代号，旧曲目的事件一律丢弃。
func (s *Session) lifecycleEvents(gen string) MediaEvents {
	return MediaEvents{
		OnTimeUpdate: func(pos float64) { s.handleTick(gen, pos) },
		OnWaiting:    func() { s.handleBuffering(gen, true) },
		OnPlaying:    func() { s.handleBuffering(gen, false) },
		OnEnded:      func() { s.handleEnded(gen) },
		OnError:      func(err error) { s.handleError(gen, err) },
	}
}

// handleTick 在每次位置更新时重算缓冲区间、网络状况和缓冲策略
func (s *Session) handleTick(gen string, pos float64) {
	s.mu.Lock()
	if s.generation != gen || s.media == nil {
		s.mu.Unlock()
		return
	}

	media := s.media
	regions := media.Buffered()
	duration := media.Duration()

	var pct float64
	if duration > 0 && len(regions) > 0 {
		pct = regions[len(regions)-1].End / duration * 100
	}

	// 周期性网络采样，据此更新缓冲策略
	now := time.Now()
	if !s.lastSampleTime.IsZero() && now.Sub(s.lastSampleTime) >= sampleInterval {
		bytes := media.BytesLoaded()
		s.netStats = buffer.DeriveStats(s.lastSampleBytes, bytes, now.Sub(s.lastSampleTime), s.lastRebuffer)
		s.strategy = buffer.StrategyFor(s.netStats)
		s.lastSampleTime = now
		s.lastSampleBytes = bytes

		if aware, ok := media.(StrategyAware); ok {
			aware.SetStrategy(s.strategy)
		}
	}

	// 缓冲进度去抖，防止刷爆宿主UI
	emitProgress := pct-s.lastEmitPct > progressDeltaPct ||
		s.lastEmitTime.IsZero() ||
		now.Sub(s.lastEmitTime) > progressInterval
	if emitProgress {
		s.lastEmitPct = pct
		s.lastEmitTime = now
	}

	snapshot := Snapshot{
		State:    s.state,
		Network:  s.netStats,
		Strategy: s.strategy,
		Regions:  regions,
		Position: pos,
		Duration: duration,
	}
	transitioning := s.transitioning
	preloaded := s.nextPreloaded
	onStats := s.cb.OnPlaybackStats
	onProgress := s.cb.OnBufferProgress
	onData := s.cb.OnAudioDataUpdate
	s.mu.Unlock()

	if onStats != nil {
		onStats(pos, duration, transitioning, preloaded)
	}
	if emitProgress && onProgress != nil {
		onProgress(pct)
	}
	if onData != nil {
		onData(snapshot)
	}
}

// handleBuffering 处理缓冲开始/结束
func (s *Session) handleBuffering(gen string, buffering bool) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}

	if buffering {
		s.lastRebuffer = time.Now()
		if s.state == StatePlaying {
			s.state = StateBuffering
		}
	} else if s.state == StateBuffering {
		s.state = StatePlaying
	}
	onChange := s.cb.OnBufferingChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(buffering)
	}
}

// handleEnded 保证每首曲目只发一次曲终信号：
// 换曲进行中或已拆除时绝不触发
func (s *Session) handleEnded(gen string) {
	s.mu.Lock()
	if s.generation != gen || s.media == nil || s.endedFired || s.transitioning {
		s.mu.Unlock()
		return
	}
	s.endedFired = true
	s.transitioning = true
	s.state = StateEnded
	fn := s.onSongEnd
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (s *Session) handleError(gen string, err error) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	onError := s.cb.OnPlaybackError
	s.mu.Unlock()

	logger.Error("播放错误", logger.ErrorField(err))
	if onError != nil {
		onError(err)
	}
}

// inRegions 判断时间点是否落在某个缓冲区间内
func inRegions(regions []buffer.Region, t float64) bool {
	for _, r := range regions {
		if t >= r.Start && t <= r.End {
			return true
		}
	}
	return false
}
