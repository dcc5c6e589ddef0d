package player

import "errors"

// State 是播放会话的状态。
// Uninitialized → Loading → Ready ⇄ Playing ⇄ Paused，
// Seeking 和 Buffering 是 Ready/Playing 的子状态，
// Error 和 Ended 对单首曲目是终态。
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StatePlaying
	StatePaused
	StateSeeking
	StateBuffering
	StateEnded
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateSeeking:
		return "seeking"
	case StateBuffering:
		return "buffering"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// 错误分类：宿主据此决定重试（网络）、跳过（解码/格式）还是忽略（主动中止）
var (
	ErrLoad              = errors.New("player: load failed")
	ErrDecode            = errors.New("player: decode failed")
	ErrNetwork           = errors.New("player: network failure")
	ErrSourceUnsupported = errors.New("player: source not supported")
	ErrAborted           = errors.New("player: aborted")
	ErrNotReady          = errors.New("player: media not ready")
)
