package signing

import (
	"sync/atomic"
	"time"
)

// Clock 签名时间戳来源
type Clock interface {
	Now() time.Time
}

// LocalClock 使用本机时间
type LocalClock struct{}

func (LocalClock) Now() time.Time { return time.Now() }

// OffsetClock 本机时间 + 与交易所服务器时间的偏移量。
// 未同步或同步失败时偏移为 0，即退化为本机时间。
type OffsetClock struct {
	offset   atomic.Int64 // 纳秒
	syncedAt atomic.Int64 // 上次同步的本机 UnixNano，0 表示从未同步
	now      func() time.Time
}

// NewOffsetClock 创建偏移时钟
func NewOffsetClock() *OffsetClock {
	return &OffsetClock{now: time.Now}
}

func (c *OffsetClock) Now() time.Time {
	return c.now().Add(time.Duration(c.offset.Load()))
}

// Sync 根据服务器时间和请求往返的中点计算偏移
func (c *OffsetClock) Sync(server time.Time, sentAt, receivedAt time.Time) time.Duration {
	mid := sentAt.Add(receivedAt.Sub(sentAt) / 2)
	offset := server.Sub(mid)
	c.offset.Store(int64(offset))
	c.syncedAt.Store(receivedAt.UnixNano())
	return offset
}

// Offset 当前偏移量
func (c *OffsetClock) Offset() time.Duration {
	return time.Duration(c.offset.Load())
}

// Stale 距离上次同步超过 maxAge (或从未同步) 时返回 true
func (c *OffsetClock) Stale(maxAge time.Duration) bool {
	last := c.syncedAt.Load()
	if last == 0 {
		return true
	}
	return c.now().Sub(time.Unix(0, last)) > maxAge
}

// MarkAttempt 同步失败后也记录时间，避免每个请求都去重试同步
func (c *OffsetClock) MarkAttempt(at time.Time) {
	c.syncedAt.Store(at.UnixNano())
}
