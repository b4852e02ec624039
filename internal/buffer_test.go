package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccumulateEnvelopes(t *testing.T) {
	buf := &envelopeBuffer{}
	assert.Equal(t, 0, buf.len())

	producer := make(chan Envelope)
	consumer := accumulate(producer, buf)

	producer <- Envelope{Type: "progress", JobID: "a", Version: 1}
	producer <- Envelope{Type: "progress", JobID: "a", Version: 2}
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, buf.len())

	e := <-consumer
	assert.Equal(t, int64(1), e.Version)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, buf.len())

	e = <-consumer
	assert.Equal(t, int64(2), e.Version)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, buf.len())

	close(producer)

	_, ok := <-consumer
	assert.False(t, ok)
}

func TestAccumulateSlice(t *testing.T) {
	buf := slicebuffer[int]{}
	producer := make(chan int)
	consumer := accumulate(producer, &buf)

	// Test this case where we consume before producing.
	go func() {
		time.Sleep(time.Second)
		producer <- -1
	}()
	x := <-consumer
	assert.Equal(t, -1, x)

	producer <- 1
	producer <- 2
	producer <- 3

	n := <-consumer
	assert.Equal(t, 1, n)
	n = <-consumer
	assert.Equal(t, 2, n)
	n = <-consumer
	assert.Equal(t, 3, n)

	close(producer)

	_, ok := <-consumer
	assert.False(t, ok)
}
