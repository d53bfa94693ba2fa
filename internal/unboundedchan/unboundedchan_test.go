package unboundedchan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnboundedChannel(t *testing.T) {
	unboundedQueue := NewUnboundedChannel[int]()

	// Send all integers [0, 19] without any reader, then close.
	max := 20
	ch := unboundedQueue.In()
	for i := range max {
		ch <- i
	}
	close(ch)

	// Receive in order and sum them all up.
	sum := 0
	next := 0
	for d := range unboundedQueue.Out() {
		if d != next {
			t.Errorf("UnboundedQueue delivered %d, want %d", d, next)
		}
		next++
		sum += d
	}
	expect := (max * (max - 1)) / 2
	if sum != expect {
		t.Errorf("UnboundedQueue sum was %d, want %d", sum, expect)
	}
}

func TestProducerNeverBlocks(t *testing.T) {
	uc := NewUnboundedChannel[string]()
	done := make(chan struct{})
	go func() {
		for range 1000 {
			uc.In() <- "update"
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked with no consumer")
	}
	assert.Eventually(t, func() bool { return uc.Len() == 1000 }, time.Second, time.Millisecond)
	<-uc.Out()
	assert.Eventually(t, func() bool { return uc.Len() == 999 }, time.Second, time.Millisecond)
	close(uc.In())
	n := 0
	for range uc.Out() {
		n++
	}
	assert.Equal(t, 999, n)
}
