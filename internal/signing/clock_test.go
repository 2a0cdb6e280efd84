package signing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOffsetClock_Sync(t *testing.T) {
	local := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewOffsetClock()
	c.now = func() time.Time { return local }

	assert.True(t, c.Stale(time.Minute))
	assert.Equal(t, local, c.Now())

	// 往返 200ms，中点为 local+100ms，服务器比中点快 2s
	offset := c.Sync(local.Add(2100*time.Millisecond), local, local.Add(200*time.Millisecond))
	assert.Equal(t, 2*time.Second, offset)
	assert.Equal(t, local.Add(2*time.Second), c.Now())
	assert.False(t, c.Stale(time.Minute))

	c.now = func() time.Time { return local.Add(2 * time.Minute) }
	assert.True(t, c.Stale(time.Minute))
}

func TestOffsetClock_MarkAttemptKeepsOffset(t *testing.T) {
	local := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewOffsetClock()
	c.now = func() time.Time { return local }

	c.MarkAttempt(local)
	assert.False(t, c.Stale(time.Minute))
	assert.Equal(t, time.Duration(0), c.Offset())
}
