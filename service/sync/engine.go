package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ChatX/logger"
	"ChatX/tools/errs"
	"ChatX/tools/safe"
)

// Filter 订阅的筛选条件。消息流按会话订阅；控制面实体
// （会话/请求/用户）按订阅者可见性过滤。
type Filter struct {
	Entity         Entity
	ConversationID string // Entity==message 时必填
	UserID         string // 订阅者身份
}

func (f Filter) Validate() error {
	switch f.Entity {
	case EntityMessage:
		if f.ConversationID == "" {
			return errs.ErrInvalidArgument.WrapMsg("message filter requires conversation id")
		}
	case EntityConversation, EntityRequest, EntityUser:
	default:
		return errs.ErrInvalidArgument.WrapMsg("unknown entity", "entity", string(f.Entity))
	}
	return nil
}

// Matches 事件是否属于该订阅。
func (f Filter) Matches(e *Event) bool {
	if e.Entity != f.Entity {
		return false
	}
	if f.Entity == EntityMessage {
		return e.ConversationID == f.ConversationID
	}
	return e.VisibleTo(f.UserID)
}

// Snapshotter 给订阅生成当前状态的完整快照（KindAdded 事件序列，
// 消息快照须按 Seq 升序）。
type Snapshotter interface {
	Snapshot(ctx context.Context, f Filter) ([]*Event, error)
}

type Options struct {
	Buffer        int // 每路订阅的投递缓冲
	PendingLimit  int // 快照期间的暂存上限，超限触发重同步
	SnapshotRetry int
	FanWorkers    int
	FanQueue      int
}

func (o *Options) withDefaults() {
	if o.Buffer <= 0 {
		o.Buffer = 256
	}
	if o.PendingLimit <= 0 {
		o.PendingLimit = 1024
	}
	if o.SnapshotRetry <= 0 {
		o.SnapshotRetry = 3
	}
	if o.FanWorkers <= 0 {
		o.FanWorkers = 8
	}
	if o.FanQueue <= 0 {
		o.FanQueue = 4096
	}
}

// Engine 同步引擎：快照+增量。每路订阅独立缓冲，慢消费或
// 序号缺口不回放旧事件，而是整体重给快照（KindResync 先行）。
type Engine struct {
	snap Snapshotter
	opts Options
	fan  *Fanout

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	closed bool

	nextID atomic.Uint64
}

func NewEngine(snap Snapshotter, opts Options) *Engine {
	opts.withDefaults()
	e := &Engine{
		snap: snap,
		opts: opts,
		subs: map[uint64]*Subscription{},
	}
	e.fan = NewFanout(e, opts.FanWorkers, opts.FanQueue)
	return e
}

// Subscribe 注册订阅并异步推送首个快照。
func (e *Engine) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	sub := &Subscription{
		id:     e.nextID.Add(1),
		engine: e,
		filter: f,
		ch:     make(chan *Event, e.opts.Buffer),
		done:   make(chan struct{}),
		state:  stateSnapshot,
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errs.ErrUnavailable.WrapMsg("sync engine closed")
	}
	e.subs[sub.id] = sub
	e.mu.Unlock()

	safe.Go(func() { e.runSnapshot(ctx, sub, false) })
	return sub, nil
}

// Publish 向所有匹配订阅投递一条变更（由 Kafka/NATS 消费端调用）。
func (e *Engine) Publish(ev *Event) {
	e.mu.RLock()
	var targets []*Subscription
	for _, s := range e.subs {
		if s.filter.Matches(ev) {
			targets = append(targets, s)
		}
	}
	e.mu.RUnlock()
	if len(targets) == 0 {
		return
	}
	e.fan.Dispatch(targets, ev)
}

// Close 终止全部订阅。
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	subs := make([]*Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	e.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
	e.fan.Close()
}

func (e *Engine) remove(id uint64) {
	e.mu.Lock()
	delete(e.subs, id)
	e.mu.Unlock()
}

// deliver 活事件投递。快照期间暂存；直播期做缺口探测与
// 非阻塞发送，任一失败都降级为重同步。
func (e *Engine) deliver(s *Subscription, ev *Event) {
	select {
	case <-s.done:
		return
	default:
	}

	s.mu.Lock()
	if s.state == stateSnapshot {
		if len(s.pending) >= e.opts.PendingLimit {
			// 快照尚未送完就已积压过多，丢弃暂存，由在途快照重拉
			s.pending = nil
			s.dirty = true
			s.mu.Unlock()
			return
		}
		s.pending = append(s.pending, ev)
		s.mu.Unlock()
		return
	}

	if s.filter.Entity == EntityMessage && ev.Seq > 0 {
		if ev.Seq <= s.lastSeq {
			s.mu.Unlock()
			return // 重复投递，丢弃
		}
		if s.lastSeq > 0 && ev.Seq != s.lastSeq+1 {
			s.state = stateSnapshot
			s.pending = nil
			s.mu.Unlock()
			logger.Warnf("[sync] seq gap on %s: have %d got %d, resync", s.filter.ConversationID, s.lastSeq, ev.Seq)
			safe.Go(func() { e.runSnapshot(context.Background(), s, true) })
			return
		}
	}

	select {
	case s.ch <- ev:
		if s.filter.Entity == EntityMessage && ev.Seq > 0 {
			s.lastSeq = ev.Seq
		}
		s.mu.Unlock()
	default:
		s.state = stateSnapshot
		s.pending = nil
		s.mu.Unlock()
		logger.Warnf("[sync] slow subscriber %d, resync", s.id)
		safe.Go(func() { e.runSnapshot(context.Background(), s, true) })
	}
}

// runSnapshot 推送快照（announce=true 时先发 KindResync），
// 然后排空暂存并切回直播。同一订阅同一时刻只有一个在途快照，
// 期间的暂存溢出通过 dirty 标记让本协程重拉。
func (e *Engine) runSnapshot(ctx context.Context, s *Subscription, announce bool) {
	for {
		if announce {
			if !s.send(&Event{Kind: KindResync, Entity: s.filter.Entity, ConversationID: s.filter.ConversationID, EmitTime: time.Now()}) {
				return
			}
		}

		var events []*Event
		var err error
		for i := 0; i < e.opts.SnapshotRetry; i++ {
			events, err = e.snap.Snapshot(ctx, s.filter)
			if err == nil {
				break
			}
			logger.Errorf("[sync] snapshot %v failed: %v", s.filter, err)
			select {
			case <-time.After(time.Duration(i+1) * 200 * time.Millisecond):
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.Cancel()
			return
		}

		var maxSeq int64
		for _, ev := range events {
			if !s.send(ev) {
				return
			}
			if ev.Seq > maxSeq {
				maxSeq = ev.Seq
			}
		}

		// 排空快照期间积压的活事件，再切直播
		redo := false
		for !redo {
			s.mu.Lock()
			if s.dirty {
				s.dirty = false
				s.pending = nil
				s.mu.Unlock()
				redo = true
				break
			}
			if len(s.pending) == 0 {
				s.lastSeq = maxSeq
				s.state = stateLive
				s.mu.Unlock()
				return
			}
			batch := s.pending
			s.pending = nil
			s.mu.Unlock()

			for _, ev := range batch {
				if s.filter.Entity == EntityMessage && ev.Seq > 0 && ev.Seq <= maxSeq {
					continue // 快照已覆盖
				}
				if !s.send(ev) {
					return
				}
				if ev.Seq > maxSeq {
					maxSeq = ev.Seq
				}
			}
		}
		announce = true
	}
}
