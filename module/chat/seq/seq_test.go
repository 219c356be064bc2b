package seq

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
)

// redisError 让 Script.Run 的 NOSCRIPT 探测生效（需实现 redis.Error）。
type redisError string

func (e redisError) Error() string { return string(e) }
func (e redisError) RedisError()   {}

// fakeScripter 在内存里模拟两段 lua 的语义。
type fakeScripter struct {
	mu   sync.Mutex
	segs map[string]*fakeSeg
}

type fakeSeg struct {
	curr int64
	end  int64
}

func newFakeScripter() *fakeScripter {
	return &fakeScripter{segs: map[string]*fakeSeg{}}
}

func (f *fakeScripter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmd := redis.NewCmd(ctx)
	key := keys[0]
	if strings.Contains(script, "PEXPIRE") { // set-segment
		f.segs[key] = &fakeSeg{curr: toI64(args[0]), end: toI64(args[1])}
		cmd.SetVal(int64(1))
		return cmd
	}

	// in-segment
	need, segEnd, nowms := toI64(args[0]), toI64(args[1]), toI64(args[2])
	s, ok := f.segs[key]
	if !ok {
		cmd.SetVal([]interface{}{int64(1)})
		return cmd
	}
	if segEnd != 0 && segEnd != s.end {
		cmd.SetVal([]interface{}{int64(3), s.curr, s.end, int64(0), nowms})
		return cmd
	}
	if s.curr+need > s.end {
		cmd.SetVal([]interface{}{int64(3), s.curr, s.end, int64(0), nowms})
		return cmd
	}
	start := s.curr + 1
	s.curr += need
	cmd.SetVal([]interface{}{int64(0), start, int64(0), s.end, nowms})
	return cmd
}

func (f *fakeScripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	cmd.SetErr(redisError("NOSCRIPT fake scripter has no cache"))
	return cmd
}

func (f *fakeScripter) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeScripter) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, sha1, keys, args...)
}

func (f *fakeScripter) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	cmd := redis.NewBoolSliceCmd(ctx)
	cmd.SetVal(make([]bool, len(hashes)))
	return cmd
}

func (f *fakeScripter) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal("fakesha")
	return cmd
}

func toI64(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	default:
		return 0
	}
}

// fakeDAO 单调递增的段源。
type fakeDAO struct {
	mu        sync.Mutex
	issued    map[string]int64
	committed map[string]int64
	calls     int
}

func (d *fakeDAO) AllocSegment(ctx context.Context, conversationID string, block int64) (int64, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.issued == nil {
		d.issued = map[string]int64{}
	}
	d.calls++
	d.issued[conversationID] += block
	end := d.issued[conversationID]
	return end - block + 1, end, nil
}

func (d *fakeDAO) AdvanceCommit(ctx context.Context, conversationID string, seq int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.committed == nil {
		d.committed = map[string]int64{}
	}
	if seq > d.committed[conversationID] {
		d.committed[conversationID] = seq
	}
	return nil
}

func (d *fakeDAO) RaiseIssuedFloor(ctx context.Context, conversationID string, floor int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.issued == nil {
		d.issued = map[string]int64{}
	}
	if floor > d.issued[conversationID] {
		d.issued[conversationID] = floor
	}
	return nil
}

func newAllocator(block int64) (*Allocator, *fakeDAO) {
	dao := &fakeDAO{}
	a := &Allocator{
		Rdb: newFakeScripter(),
		DAO: dao,
		BlockSizeFn: func(string, int64) int64 {
			return block
		},
	}
	return a, dao
}

func TestMallocMonotonic(t *testing.T) {
	a, _ := newAllocator(8)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 50; i++ {
		start, mill, err := a.Malloc(ctx, "p2p:u1:u2", 1)
		if err != nil {
			t.Fatalf("malloc #%d: %v", i, err)
		}
		if start != prev+1 {
			t.Fatalf("seq gap: got %d after %d", start, prev)
		}
		if mill <= 0 {
			t.Fatalf("bad mill %d", mill)
		}
		prev = start
	}
}

func TestMallocBatch(t *testing.T) {
	a, _ := newAllocator(100)
	ctx := context.Background()

	start, _, err := a.Malloc(ctx, "grp:1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if start != 1 {
		t.Fatalf("want start 1, got %d", start)
	}
	start, _, err = a.Malloc(ctx, "grp:1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if start != 6 {
		t.Fatalf("want start 6 after batch of 5, got %d", start)
	}
}

func TestMallocConversationsIndependent(t *testing.T) {
	a, _ := newAllocator(16)
	ctx := context.Background()

	s1, _, err := a.Malloc(ctx, "p2p:a:b", 1)
	if err != nil {
		t.Fatal(err)
	}
	s2, _, err := a.Malloc(ctx, "p2p:a:c", 1)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != 1 || s2 != 1 {
		t.Fatalf("conversations should count independently, got %d %d", s1, s2)
	}
}

func TestMallocRefillsFromDAO(t *testing.T) {
	a, dao := newAllocator(4)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, _, err := a.Malloc(ctx, "grp:2", 1); err != nil {
			t.Fatal(err)
		}
	}
	if dao.calls < 3 {
		t.Fatalf("expected at least 3 segment refills for block=4 and 10 allocs, got %d", dao.calls)
	}
}

// overwriteScripter 在段写入后立刻用另一节点的段覆盖一次，
// 模拟并发回源时本节点刚装的段被顶掉。
type overwriteScripter struct {
	*fakeScripter
	otherCurr int64
	otherEnd  int64
	once      sync.Once
}

func (h *overwriteScripter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	cmd := h.fakeScripter.Eval(ctx, script, keys, args...)
	if strings.Contains(script, "PEXPIRE") {
		h.once.Do(func() {
			h.fakeScripter.Eval(ctx, script, keys, h.otherCurr, h.otherEnd, args[2])
		})
	}
	return cmd
}

func TestMallocSegmentVersionGuard(t *testing.T) {
	dao := &fakeDAO{}
	const block = int64(8)
	a := &Allocator{
		Rdb:         &overwriteScripter{fakeScripter: newFakeScripter(), otherCurr: block, otherEnd: 2 * block},
		DAO:         dao,
		BlockSizeFn: func(string, int64) int64 { return block },
	}

	// 第一次回源领到 [1,8]，但写回后被另一节点的段 [9,16] 覆盖；
	// 带版本的再发号必须拒绝旧段，改领 [17,24] 而不是消费 9
	start, _, err := a.Malloc(context.Background(), "grp:race", 1)
	if err != nil {
		t.Fatal(err)
	}
	if start == block+1 {
		t.Fatalf("consumed from another node's segment, got %d", start)
	}
	if start != 2*block+1 {
		t.Fatalf("want start %d from a fresh segment, got %d", 2*block+1, start)
	}
	if dao.calls != 2 {
		t.Fatalf("want 2 segment allocs (overwritten + fresh), got %d", dao.calls)
	}
}

func TestCorrectForcesRefill(t *testing.T) {
	a, dao := newAllocator(8)
	ctx := context.Background()

	if _, _, err := a.Malloc(ctx, "grp:fix", 1); err != nil {
		t.Fatal(err)
	}
	if err := a.Correct(ctx, "grp:fix", 100); err != nil {
		t.Fatal(err)
	}
	start, _, err := a.Malloc(ctx, "grp:fix", 1)
	if err != nil {
		t.Fatal(err)
	}
	if start != 101 {
		t.Fatalf("want 101 after raising floor to 100, got %d", start)
	}
	if dao.issued["grp:fix"] < 100 {
		t.Fatalf("issued floor not raised: %d", dao.issued["grp:fix"])
	}
}

func TestCommitAdvancesWatermark(t *testing.T) {
	a, dao := newAllocator(8)
	ctx := context.Background()

	if err := a.Commit(ctx, "grp:wm", 5); err != nil {
		t.Fatal(err)
	}
	if err := a.Commit(ctx, "grp:wm", 3); err != nil {
		t.Fatal(err)
	}
	if dao.committed["grp:wm"] != 5 {
		t.Fatalf("watermark must not regress, got %d", dao.committed["grp:wm"])
	}
}

func TestMallocConcurrentUnique(t *testing.T) {
	a, _ := newAllocator(64)
	ctx := context.Background()

	const n = 200
	got := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, _, err := a.Malloc(ctx, "grp:hot", 1)
			if err != nil {
				t.Error(err)
				return
			}
			got <- s
		}()
	}
	wg.Wait()
	close(got)

	seen := map[int64]bool{}
	for s := range got {
		if seen[s] {
			t.Fatalf("duplicate seq %d", s)
		}
		seen[s] = true
	}
	if len(seen) != n {
		t.Fatalf("want %d unique seqs, got %d", n, len(seen))
	}
}
