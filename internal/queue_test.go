package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoalesceByAuthorKeepsHighestRetryCount(t *testing.T) {
	batch := []warmMessage{
		{Author: "Frank Herbert", Retries: 0},
		{Author: "Frank Herbert", Retries: 2},
		{Author: "Ursula K. Le Guin", Retries: 1},
	}

	out := coalesceByAuthor(batch)

	assert.Len(t, out, 2)
	assert.Equal(t, 2, out["Frank Herbert"].Retries, "a duplicate within the batch must not reset an already-retried message")
	assert.Equal(t, 1, out["Ursula K. Le Guin"].Retries)
}

func TestCoalesceByAuthorEmptyBatch(t *testing.T) {
	assert.Empty(t, coalesceByAuthor(nil))
}
