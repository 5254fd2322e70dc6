package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// governorAt builds a governor whose clock reads start+elapsed.
func governorAt(ceiling, floor, elapsed time.Duration) *Governor {
	start := time.Unix(1700000000, 0)
	g := NewGovernor(ceiling, floor)
	g.start = start
	g.clock = func() time.Time { return start.Add(elapsed) }
	return g
}

func TestGovernor_Remaining(t *testing.T) {
	t.Run("fresh budget", func(t *testing.T) {
		g := governorAt(35*time.Second, 250*time.Millisecond, 0)
		assert.Equal(t, 35*time.Second, g.Remaining())
	})

	t.Run("partially consumed", func(t *testing.T) {
		g := governorAt(35*time.Second, 250*time.Millisecond, 20*time.Second)
		assert.Equal(t, 15*time.Second, g.Remaining())
		assert.Equal(t, 20*time.Second, g.Elapsed())
	})

	t.Run("overrun clamps to zero", func(t *testing.T) {
		g := governorAt(35*time.Second, 250*time.Millisecond, 40*time.Second)
		assert.Equal(t, time.Duration(0), g.Remaining())
	})
}

func TestGovernor_SufficientFor(t *testing.T) {
	g := governorAt(35*time.Second, 250*time.Millisecond, 28*time.Second)
	assert.True(t, g.SufficientFor(7*time.Second))
	assert.False(t, g.SufficientFor(8*time.Second))
}

func TestGovernor_Allocate(t *testing.T) {
	const floor = 250 * time.Millisecond

	t.Run("plenty of budget grants the request", func(t *testing.T) {
		g := governorAt(35*time.Second, floor, 0)
		got := g.Allocate(8*time.Second, 3*time.Second)
		assert.Equal(t, 8*time.Second, got)
	})

	t.Run("tight budget shrinks the grant", func(t *testing.T) {
		g := governorAt(35*time.Second, floor, 28*time.Second)
		// 7s remain, 3s buffer: only 4s available.
		got := g.Allocate(8*time.Second, 3*time.Second)
		assert.Equal(t, 4*time.Second, got)
	})

	t.Run("exhausted budget still grants the floor", func(t *testing.T) {
		g := governorAt(35*time.Second, floor, 35*time.Second)
		got := g.Allocate(8*time.Second, 3*time.Second)
		assert.Equal(t, floor, got)
	})

	t.Run("request below the floor is granted as asked", func(t *testing.T) {
		g := governorAt(35*time.Second, floor, 0)
		got := g.Allocate(100*time.Millisecond, 3*time.Second)
		assert.Equal(t, 100*time.Millisecond, got)
	})
}
