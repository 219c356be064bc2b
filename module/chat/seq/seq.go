package seq

import (
	"context"
	"time"

	"ChatX/tools/errs"

	"github.com/redis/go-redis/v9"
)

// 段内原子发号：KEYS[1]=key; ARGV[1]=need; ARGV[2]=segEnd; ARGV[3]=nowMs
// 返回：{0,start,0,end,nowMs} 成功；{1} notfound；{3,curr,end,0,nowMs} 用尽/不一致
var luaInSegment = redis.NewScript(`
  local k = KEYS[1]
  local need = tonumber(ARGV[1])
  local segEnd = tonumber(ARGV[2])
  local nowms = tonumber(ARGV[3])

  local curr = redis.call('HGET', k, 'curr')
  local endv = redis.call('HGET', k, 'end')
  if not curr or not endv then
    return {1}
  end
  curr = tonumber(curr); endv = tonumber(endv)

  if segEnd ~= 0 and segEnd ~= endv then
    return {3, curr, endv, 0, nowms}
  end

  local start = curr + 1
  local newv  = curr + need
  if newv > endv then
    return {3, curr, endv, 0, nowms}
  end
  redis.call('HSET', k, 'curr', newv, 'mill', nowms)
  return {0, start, 0, endv, nowms}
`)

// 装载/刷新段：curr=start-1, end=end, mill=nowMs，并设置TTL
var luaSetSegment = redis.NewScript(`
  local k = KEYS[1]
  local curr = tonumber(ARGV[1])
  local endv = tonumber(ARGV[2])
  local nowms= tonumber(ARGV[3])
  redis.call('HSET', k, 'curr', curr, 'end', endv, 'mill', nowms)
  redis.call('PEXPIRE', k, 3600000)
  return 1
`)

// DAOIface 段回源：从 Mongo 原子领取 [start,end]，外加水位维护。
type DAOIface interface {
	AllocSegment(ctx context.Context, conversationID string, block int64) (start, end int64, err error)
	AdvanceCommit(ctx context.Context, conversationID string, seq int64) error
	RaiseIssuedFloor(ctx context.Context, conversationID string, floor int64) error
}

// Allocator 会话内序号分配器。start 即消息 Seq，mill 即服务端时间戳：
// 同一会话内 Seq 严格单调（Redis 段内原子 + Mongo 段源原子），
// 不同会话相互独立，可并行发号。
type Allocator struct {
	Rdb         redis.Scripter
	DAO         DAOIface
	BlockSizeFn func(conversationID string, want int64) int64
	KeyFn       func(conversationID string) string
	MaxRetry    int
}

func defaultBlock(_ string, want int64) int64 {
	if want <= 0 {
		want = 1
	}
	if want < 32 {
		return 256 // 冷会话小段
	}
	return want * 8 // 热会话放大
}

func defaultKey(conv string) string { return "seq:blk:" + conv }

func (a *Allocator) ensure() {
	if a.BlockSizeFn == nil {
		a.BlockSizeFn = defaultBlock
	}
	if a.KeyFn == nil {
		a.KeyFn = defaultKey
	}
	if a.MaxRetry == 0 {
		a.MaxRetry = 10
	}
}

// Malloc 分配 need 个连续 seq（返回起始 start 与 mill 时间戳）。
func (a *Allocator) Malloc(ctx context.Context, conversationID string, need int64) (start int64, mill int64, err error) {
	a.ensure()
	if need <= 0 {
		need = 1
	}
	key := a.KeyFn(conversationID)
	nowms := time.Now().UnixMilli()

	// 1) 先尝试在现有段内发号（segEnd=0 不校验段版本）
	if res, e := luaInSegment.Run(ctx, a.Rdb, []string{key}, need, 0, nowms).Result(); e == nil {
		arr := res.([]interface{})
		switch arr[0].(int64) {
		case 0:
			return arr[1].(int64), arr[4].(int64), nil
		case 1, 3:
			// not found / exceeded -> 回源
		default:
			return 0, 0, errs.New("unknown redis state %v", arr[0])
		}
	}

	// 2) 回源 Mongo 领段 -> 写回 Redis -> 带段版本再发号：
	//    并发回源可能覆盖刚写入的段，版本不符必须重新领段
	var lastErr error
	for i := 0; i < a.MaxRetry; i++ {
		block := a.BlockSizeFn(conversationID, need)
		segStart, segEnd, e := a.DAO.AllocSegment(ctx, conversationID, block)
		if e != nil {
			lastErr = e
			break
		}
		if _, e = luaSetSegment.Run(ctx, a.Rdb, []string{key}, segStart-1, segEnd, nowms).Result(); e != nil {
			lastErr = e
			time.Sleep(10 * time.Millisecond)
			continue
		}
		res2, e := luaInSegment.Run(ctx, a.Rdb, []string{key}, need, segEnd, nowms).Result()
		if e != nil {
			lastErr = e
			time.Sleep(10 * time.Millisecond)
			continue
		}
		arr := res2.([]interface{})
		if arr[0].(int64) == 0 {
			return arr[1].(int64), arr[4].(int64), nil
		}
		time.Sleep(5 * time.Millisecond) // 段冲突，重试
	}
	if lastErr == nil {
		lastErr = errs.ErrUnavailable.WrapMsg("seq malloc retry exceeded", "conversation", conversationID)
	}
	return 0, 0, lastErr
}

// Commit 消息落库后推进已提交水位，只增不减。
func (a *Allocator) Commit(ctx context.Context, conversationID string, seq int64) error {
	return a.DAO.AdvanceCommit(ctx, conversationID, seq)
}

// Correct 发号源落后于已提交消息时纠偏：抬升 Mongo 预分配下限，
// 并把 Redis 里的段写成已耗尽，强制下一次 Malloc 回源。
func (a *Allocator) Correct(ctx context.Context, conversationID string, floor int64) error {
	a.ensure()
	if err := a.DAO.RaiseIssuedFloor(ctx, conversationID, floor); err != nil {
		return err
	}
	nowms := time.Now().UnixMilli()
	_, err := luaSetSegment.Run(ctx, a.Rdb, []string{a.KeyFn(conversationID)}, floor, floor, nowms).Result()
	return err
}
