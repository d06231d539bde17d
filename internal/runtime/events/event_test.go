package events

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpersEmitKinds(t *testing.T) {
	c := NewCollector()

	Started(c, "vu-1")
	Error(c, "vu-1", errors.New("boom"))
	Error(c, "vu-1", nil)
	Counter(c, CounterPublishSent, 2)
	Rate(c, RatePublish)
	Match(c, true, MatchDetail{Expression: "$.ok", Expected: true, Got: true})
	Response(c, 15*time.Millisecond, 0, "vu-1")

	evs := c.Events()
	require.Len(t, evs, 6)
	assert.Equal(t, KindStarted, evs[0].Kind)
	assert.Equal(t, "boom", evs[1].Message)
	assert.Equal(t, int64(2), evs[2].Delta)
	assert.Equal(t, RatePublish, evs[3].Name)
	require.NotNil(t, evs[4].Match)
	assert.Equal(t, "$.ok", evs[4].Match.Expression)
	assert.True(t, evs[4].Success)
	assert.Equal(t, 15*time.Millisecond, evs[5].Latency)
	assert.Equal(t, "vu-1", evs[5].VUID)
}

func TestMultiFansOutAndSkipsNil(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	m := Multi(a, nil, b)

	Counter(m, "x", 1)

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestCollectorCounterTotal(t *testing.T) {
	c := NewCollector()
	Counter(c, "a", 1)
	Counter(c, "a", 3)
	Counter(c, "b", 5)

	assert.Equal(t, int64(4), c.CounterTotal("a"))
	assert.Equal(t, int64(0), c.CounterTotal("missing"))
}

func TestCollectorConcurrentEmit(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Counter(c, "n", 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), c.CounterTotal("n"))
}
