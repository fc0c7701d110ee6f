package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClock_AfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	ch := c.After(time.Minute)
	assert.Equal(t, 1, c.Pending())

	c.Advance(30 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case fired := <-ch:
		assert.Equal(t, start.Add(time.Minute), fired)
	default:
		t.Fatal("expected channel to fire")
	}
	assert.Equal(t, 0, c.Pending())
}

func TestMockClock_ZeroDurationFiresImmediately(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))

	select {
	case <-c.After(0):
	default:
		t.Fatal("expected immediate fire")
	}
}

func TestMockClock_Since(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	ch := c.After(2 * time.Hour)
	c.Advance(90 * time.Minute)
	assert.Equal(t, 90*time.Minute, c.Since(start))
	select {
	case <-ch:
		t.Fatal("unexpected fire")
	default:
	}
}

func TestMockClock_BlockUntil(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.After(time.Second)
	}()

	assert.True(t, c.BlockUntil(1, time.Second))
	assert.False(t, c.BlockUntil(2, 20*time.Millisecond))
}
