package sync

import "sync"

const (
	stateSnapshot = iota // 正在拉快照，活事件进 pending
	stateLive            // 快照已送完，活事件直投
)

// Subscription 一路同步流。先收到完整快照（KindAdded 序列），
// 之后是增量；收到 KindResync 表示服务端判定流已不可续
// （缺口/慢消费），客户端应清空本地状态等待新快照。
type Subscription struct {
	id     uint64
	engine *Engine
	filter Filter

	ch   chan *Event
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	state   int
	pending []*Event
	dirty   bool // 快照期间暂存溢出，需重拉
	lastSeq int64
}

// Events 按序送达的事件流。流不会被 close，终止以 Done 为准。
func (s *Subscription) Events() <-chan *Event { return s.ch }

// Done 订阅结束信号（Cancel 或引擎关闭）。
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel 终止订阅，幂等。
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.engine.remove(s.id)
	})
}

// send 阻塞投递（快照路径用），订阅取消时放弃。
func (s *Subscription) send(e *Event) bool {
	select {
	case s.ch <- e:
		return true
	case <-s.done:
		return false
	}
}
