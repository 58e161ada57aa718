package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReceive(t *testing.T) {
	t.Parallel()

	ch := make(chan int, 1)
	ch <- 7
	assert.Equal(t, 7, Receive[int](t, ch, ShortTestTimeout, "value"))

	done := make(chan struct{})
	go func() {
		time.Sleep(time.Millisecond)
		close(done)
	}()
	WaitForChannel(t, done, ShortTestTimeout, "close")
}
