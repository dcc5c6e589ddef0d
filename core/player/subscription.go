package player

import "sync"

// subscription 把事件监听的注册/清理配成一对。
// 会话启动时获取订阅，任何退出路径（包括出错）都必须走 cancel；
// cancel 幂等且绝不 panic，残留的监听器是正确性问题而非美观问题。
type subscription struct {
	mu     sync.Mutex
	cancel func()
	done   bool
}

// newSubscription 在 media 上注册事件并返回可安全多次取消的订阅
func newSubscription(media Media, ev MediaEvents) *subscription {
	if media == nil {
		return &subscription{done: true}
	}
	return &subscription{cancel: media.Subscribe(ev)}
}

// Cancel 解除监听，多次调用只有第一次生效
func (s *subscription) Cancel() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	s.done = true
	if s.cancel != nil {
		s.cancel()
	}
}
