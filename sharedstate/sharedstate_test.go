package sharedstate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotGetBeforeSetReturnsNotSet(t *testing.T) {
	s := NewSlot[int]()
	_, ok := s.Get()
	assert.False(t, ok)
}

func TestSlotSetAndGet(t *testing.T) {
	s := NewSlot[string]()
	s.Set("handle-1")
	v, ok := s.Get()
	assert.True(t, ok)
	assert.Equal(t, "handle-1", v)
}

func TestSlotClear(t *testing.T) {
	s := NewSlot[int]()
	s.Set(42)
	s.Clear()
	_, ok := s.Get()
	assert.False(t, ok)
}

func TestSlotConcurrentReadersDuringWrite(t *testing.T) {
	s := NewSlot[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Set(n)
		}(i)
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Get()
		}()
	}
	wg.Wait()
}

func TestContainerSlotsIndependentlySettable(t *testing.T) {
	c := New()
	c.DB.Set("db-handle")
	c.Cache.Set("cache-handle")

	dbv, ok := c.DB.Get()
	assert.True(t, ok)
	assert.Equal(t, "db-handle", dbv)

	_, ok = c.Broker.Get()
	assert.False(t, ok)
}
