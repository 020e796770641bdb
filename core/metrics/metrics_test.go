package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartTimer(t *testing.T) {
	var got time.Duration
	timer := StartTimer(func(d time.Duration) { got = d })
	time.Sleep(2 * time.Millisecond)
	timer.ObserveDuration()
	require.GreaterOrEqual(t, got, 2*time.Millisecond)

	NopTimer().ObserveDuration()
}
