package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIsUniqueAndIncreasing(t *testing.T) {
	gen, err := New(1)
	require.NoError(t, err)

	seen := make(map[int64]struct{})
	prev := int64(0)
	for i := 0; i < 1000; i++ {
		id := gen.Next()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = struct{}{}
		if id <= prev {
			t.Fatalf("id %d not greater than %d", id, prev)
		}
		prev = id
	}
}

func TestTimestamp(t *testing.T) {
	gen, err := New(1)
	require.NoError(t, err)

	before := time.Now().Add(-time.Second)
	id := gen.Next()
	after := time.Now().Add(time.Second)

	ts := Timestamp(id)
	assert.True(t, ts.After(before), "timestamp %v not after %v", ts, before)
	assert.True(t, ts.Before(after), "timestamp %v not before %v", ts, after)
}

func TestNewRejectsOutOfRangeNode(t *testing.T) {
	_, err := New(1024)
	assert.Error(t, err)
}
