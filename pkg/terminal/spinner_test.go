package terminal

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinnerAnimatesAndClears(t *testing.T) {
	defer goleak.VerifyNone(t)

	var out syncBuffer
	s := NewSpinner(&out, "Applying plan")
	s.interval = 5 * time.Millisecond

	s.Start()
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Applying plan"))
	}, time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Contains(t, out.String(), SpinnerFrames[0])
	assert.True(t, bytes.HasSuffix([]byte(out.String()), []byte(clearLine)), "line not cleared: %q", out.String())
}

func TestSpinnerStartStopAreIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	var out syncBuffer
	s := NewSpinner(&out, "x")
	s.Stop()
	assert.Empty(t, out.String())

	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
	assert.Equal(t, clearLine, out.String()[len(out.String())-len(clearLine):])
}

func TestWithSpinnerReturnsResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	var out syncBuffer
	got, err := WithSpinner(&out, "work", func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	boom := errors.New("boom")
	_, err = WithSpinner(&out, "work", func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}
