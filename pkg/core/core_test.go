package core

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAtoi(t *testing.T) {
	require.Equal(t, 30, Atoi("30"))
	require.Equal(t, 0, Atoi(""))
	require.Equal(t, 0, Atoi("abc"))
}

func TestParseSize(t *testing.T) {
	w, h, err := ParseSize("1296x972")
	require.Nil(t, err)
	require.Equal(t, uint(1296), w)
	require.Equal(t, uint(972), h)

	_, _, err = ParseSize("640X480")
	require.Nil(t, err)

	for _, s := range []string{"", "x480", "640x", "640", "0x480", "-1x2"} {
		_, _, err = ParseSize(s)
		require.NotNil(t, err, s)
	}
}

func TestWorker(t *testing.T) {
	var n atomic.Int32

	w := NewWorker(time.Millisecond, func() time.Duration {
		if n.Add(1) < 3 {
			return time.Millisecond
		}
		return 0
	})

	require.Eventually(t, func() bool { return n.Load() == 3 }, time.Second, time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, int32(3), n.Load())

	w.Stop()

	var nilWorker *Worker
	nilWorker.Do()
	nilWorker.Stop()
}
