package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ecousins25/ogmash-v2/core/buffer"
	"github.com/ecousins25/ogmash-v2/logger"
	"github.com/ecousins25/ogmash-v2/model"
)

const (
	defaultChunkSize = 256 * 1024
	clockTick        = 250 * time.Millisecond
	// 清单缺少时长时按 192kbps 估算
	fallbackByteRate = 24000.0
)

// HTTPOpener 通过分发服务的 /audio/ 端点按字节范围拉取音频
type HTTPOpener struct {
	BaseURL   string
	Client    *http.Client
	ChunkSize int64
	Songs     []model.Song // 已知清单，用于时长查询；可为空
}

// Open 创建指定路径的媒体资源
func (o *HTTPOpener) Open(path string) (Media, error) {
	if o.BaseURL == "" {
		return nil, fmt.Errorf("%w: empty base URL", ErrLoad)
	}

	client := o.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	chunk := o.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}

	var duration float64
	for _, song := range o.Songs {
		if song.Path == path {
			duration = song.Duration
			break
		}
	}

	return &httpMedia{
		url:      strings.TrimSuffix(o.BaseURL, "/") + "/audio/" + url.PathEscape(path),
		client:   client,
		chunk:    chunk,
		duration: duration,
		strategy: buffer.StrategyFor(buffer.NetworkStats{}), // 未知网络先按最保守档
	}, nil
}

// httpMedia 是基于 HTTP 字节范围请求的媒体实现。
// 字节与媒体时间按曲目的平均字节率换算，缓冲区间因此是近似值，
// 对缓冲健康策略来说足够了。
type httpMedia struct {
	url    string
	client *http.Client
	chunk  int64

	mu          sync.Mutex
	size        int64
	duration    float64
	byteRate    float64
	startSec    float64 // 当前下载段的起始媒体时间
	loadedBytes int64   // 当前下载段已取字节
	totalBytes  int64   // 跨段累计字节，用于网络采样
	position    float64
	playing     bool
	stalled     bool
	strategy    buffer.Strategy
	events      MediaEvents
	eventsGen   int
	canPlaySent bool
	endedSent   bool
	closed      bool
	clockOn     bool

	fetchCancel context.CancelFunc
}

// Load 开始（或从当前位置重新开始）拉取数据。
// 首次调用会探测对象大小并启动播放时钟。
func (m *httpMedia) Load(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAborted
	}

	// 重新加载：停掉上一段下载
	if m.fetchCancel != nil {
		m.fetchCancel()
		m.fetchCancel = nil
	}

	needProbe := m.size == 0
	m.mu.Unlock()

	if needProbe {
		if err := m.probe(ctx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAborted
	}

	m.startSec = m.position
	m.loadedBytes = 0
	m.canPlaySent = false

	fetchCtx, cancel := context.WithCancel(ctx)
	m.fetchCancel = cancel

	if !m.clockOn {
		m.clockOn = true
		go m.clockLoop()
	}
	m.mu.Unlock()

	go m.fetchLoop(fetchCtx)
	return nil
}

// probe 用一个单字节范围请求探测对象大小和类型
func (m *httpMedia) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoad, err)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := m.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return ErrAborted
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrLoad, m.url)
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrLoad, resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "audio/") {
		return fmt.Errorf("%w: content type %s", ErrSourceUnsupported, ct)
	}

	// Content-Range: bytes 0-0/<size>
	_, totalStr, ok := strings.Cut(resp.Header.Get("Content-Range"), "/")
	if !ok {
		return fmt.Errorf("%w: missing Content-Range", ErrLoad)
	}
	size, err := strconv.ParseInt(totalStr, 10, 64)
	if err != nil || size <= 0 {
		return fmt.Errorf("%w: bad Content-Range %q", ErrLoad, totalStr)
	}

	m.mu.Lock()
	m.size = size
	if m.duration <= 0 {
		m.duration = float64(size) / fallbackByteRate
	}
	m.byteRate = float64(size) / m.duration
	m.mu.Unlock()
	return nil
}

// fetchLoop 按块顺序下载，缓冲领先 MaxBuffer 时歇口气
func (m *httpMedia) fetchLoop(ctx context.Context) {
	for {
		m.mu.Lock()
		if m.closed || ctx.Err() != nil {
			m.mu.Unlock()
			return
		}

		offset := int64(m.startSec*m.byteRate) + m.loadedBytes
		if offset >= m.size {
			// 下载完毕
			m.mu.Unlock()
			m.maybeCanPlay()
			return
		}

		ahead := m.bufferedEndLocked() - m.position
		maxBuffer := m.strategy.MaxBuffer
		m.mu.Unlock()

		if ahead >= maxBuffer {
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		end := offset + m.chunk - 1
		if end > m.size-1 {
			end = m.size - 1
		}

		n, err := m.fetchChunk(ctx, offset, end)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("拉取音频切片失败",
				logger.String("url", m.url),
				logger.Int64("offset", offset),
				logger.ErrorField(err))
			m.fireError(err)
			return
		}

		m.mu.Lock()
		m.loadedBytes += n
		m.totalBytes += n
		regions := m.bufferedLocked()
		onProgress := m.events.OnProgress
		m.mu.Unlock()

		if onProgress != nil {
			onProgress(regions)
		}
		m.maybeCanPlay()
	}
}

// fetchChunk 拉取 [start, end] 闭区间的字节
func (m *httpMedia) fetchChunk(ctx context.Context, start, end int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("%w: unexpected status %d", ErrNetwork, resp.StatusCode)
	}

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return n, nil
}

// maybeCanPlay 缓冲首次达到 MinBuffer（或下载完）时发出可播放信号
func (m *httpMedia) maybeCanPlay() {
	m.mu.Lock()
	if m.canPlaySent {
		m.mu.Unlock()
		return
	}

	buffered := m.bufferedEndLocked() - m.startSec
	complete := int64(m.startSec*m.byteRate)+m.loadedBytes >= m.size
	if buffered < m.strategy.MinBuffer && !complete {
		m.mu.Unlock()
		return
	}

	m.canPlaySent = true
	onCanPlay := m.events.OnCanPlay
	m.mu.Unlock()

	if onCanPlay != nil {
		onCanPlay()
	}
}

// clockLoop 在播放时推进位置，缓冲耗尽时停滞并发出等待信号
func (m *httpMedia) clockLoop() {
	ticker := time.NewTicker(clockTick)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		if !m.playing {
			m.mu.Unlock()
			continue
		}

		step := clockTick.Seconds()
		bufEnd := m.bufferedEndLocked()

		switch {
		case m.position >= m.duration:
			m.playing = false
			if m.endedSent {
				m.mu.Unlock()
				continue
			}
			m.endedSent = true
			onEnded := m.events.OnEnded
			m.mu.Unlock()
			if onEnded != nil {
				onEnded()
			}

		case m.position+step > bufEnd && bufEnd < m.duration:
			// 缓冲跟不上播放位置
			if m.stalled {
				m.mu.Unlock()
				continue
			}
			m.stalled = true
			onWaiting := m.events.OnWaiting
			m.mu.Unlock()
			if onWaiting != nil {
				onWaiting()
			}

		default:
			var onPlaying func()
			if m.stalled {
				m.stalled = false
				onPlaying = m.events.OnPlaying
			}
			m.position += step
			if m.position > m.duration {
				m.position = m.duration
			}
			pos := m.position
			onTimeUpdate := m.events.OnTimeUpdate
			m.mu.Unlock()

			if onPlaying != nil {
				onPlaying()
			}
			if onTimeUpdate != nil {
				onTimeUpdate(pos)
			}
		}
	}
}

func (m *httpMedia) fireError(err error) {
	m.mu.Lock()
	onError := m.events.OnError
	m.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

// bufferedEndLocked 返回已缓冲媒体时间的末端，调用方持锁
func (m *httpMedia) bufferedEndLocked() float64 {
	if m.byteRate <= 0 {
		return 0
	}
	end := m.startSec + float64(m.loadedBytes)/m.byteRate
	if end > m.duration {
		end = m.duration
	}
	return end
}

func (m *httpMedia) bufferedLocked() []buffer.Region {
	if m.loadedBytes == 0 {
		return nil
	}
	return []buffer.Region{{Start: m.startSec, End: m.bufferedEndLocked()}}
}

func (m *httpMedia) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrAborted
	}
	m.playing = true
	return nil
}

func (m *httpMedia) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
}

// SetPosition 设定播放位置。
// 位置落在缓冲之外时由会话决定是否重新加载。
func (m *httpMedia) SetPosition(pos float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	if pos > m.duration {
		pos = m.duration
	}
	m.position = pos
	m.endedSent = false
}

func (m *httpMedia) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *httpMedia) Duration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

func (m *httpMedia) Buffered() []buffer.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bufferedLocked()
}

func (m *httpMedia) BytesLoaded() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalBytes
}

func (m *httpMedia) SetStrategy(s buffer.Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategy = s
}

// Subscribe 注册事件回调，返回的取消函数只清除本次注册
func (m *httpMedia) Subscribe(ev MediaEvents) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = ev
	m.eventsGen++
	gen := m.eventsGen

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.eventsGen == gen {
			m.events = MediaEvents{}
		}
	}
}

// Close 停止下载和时钟，幂等
func (m *httpMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.playing = false
	m.events = MediaEvents{}
	if m.fetchCancel != nil {
		m.fetchCancel()
		m.fetchCancel = nil
	}
}
