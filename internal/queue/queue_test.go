package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushBeforeOpen_DrainsInOrder(t *testing.T) {
	q := New()
	var got []int
	q.Push(func() { got = append(got, 1) })
	q.Push(func() { got = append(got, 2) })
	q.Push(func() { got = append(got, 3) })

	assert.Empty(t, got)
	assert.Equal(t, 3, q.Pending())

	q.Open()
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 0, q.Pending())
}

func TestPushAfterOpen_RunsImmediately(t *testing.T) {
	q := New()
	q.Open()

	ran := false
	q.Push(func() { ran = true })
	assert.True(t, ran)
}

func TestOpenTwice_NoReplay(t *testing.T) {
	q := New()
	count := 0
	q.Push(func() { count++ })
	q.Open()
	q.Open()
	assert.Equal(t, 1, count)
}

func TestConcurrentPush(t *testing.T) {
	q := New()
	var mu sync.Mutex
	count := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Push(func() {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	q.Open()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20, count)
}
