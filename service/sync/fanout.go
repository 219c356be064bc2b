package sync

import (
	"hash/fnv"
	"sync"
)

type fanoutJob struct {
	subs []*Subscription
	ev   *Event
}

// Fanout 把事件扇出到多路订阅的工作池。按会话分片到固定
// worker，同一会话的事件串行投递，保住会话内次序；发布方
// 不被任何一路慢订阅拖住。
type Fanout struct {
	engine *Engine
	shards []chan fanoutJob
	wg     sync.WaitGroup
	once   sync.Once
}

func NewFanout(engine *Engine, workers, queue int) *Fanout {
	f := &Fanout{engine: engine, shards: make([]chan fanoutJob, workers)}
	for i := range f.shards {
		ch := make(chan fanoutJob, queue/workers+1)
		f.shards[i] = ch
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			for job := range ch {
				for _, s := range job.subs {
					f.engine.deliver(s, job.ev)
				}
			}
		}()
	}
	return f
}

func (f *Fanout) Dispatch(subs []*Subscription, ev *Event) {
	if len(subs) == 0 || ev == nil {
		return
	}
	key := string(ev.Entity) + ":" + ev.ConversationID
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	f.shards[h.Sum32()%uint32(len(f.shards))] <- fanoutJob{subs: subs, ev: ev}
}

func (f *Fanout) Close() {
	f.once.Do(func() {
		for _, ch := range f.shards {
			close(ch)
		}
		f.wg.Wait()
	})
}
