package scratch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSetRoundTrip(t *testing.T) {
	s := New()
	s.Set(KeyRequestID, "abc")
	v, ok := s.Get(KeyRequestID)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestFinishOnlyWinsOnce(t *testing.T) {
	s := New()
	assert.False(t, s.Finished())

	var wg sync.WaitGroup
	wins := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- s.Finish()
		}()
	}
	wg.Wait()
	close(wins)

	trueCount := 0
	for w := range wins {
		if w {
			trueCount++
		}
	}
	assert.Equal(t, 1, trueCount)
	assert.True(t, s.Finished())
}
