package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	t.Parallel()

	prev := New()
	for i := 0; i < 500; i++ {
		next := New()
		require.Less(t, prev, next)
		prev = next
	}
}

func TestTimeRoundTrip(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	ts, err := Time(New())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
}
