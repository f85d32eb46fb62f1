package terminal

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// SpinnerFrames are the animation frames, drawn in order.
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const clearLine = "\r\033[K"

// Spinner animates a message with the elapsed time while a blocking call
// runs, such as applying a plan.
type Spinner struct {
	out      io.Writer
	message  string
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSpinner(out io.Writer, message string) *Spinner {
	return &Spinner{out: out, message: message, interval: 80 * time.Millisecond}
}

// Start begins the animation. Starting a running spinner is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.animate(ctx, time.Now())
	}()
}

func (s *Spinner) animate(ctx context.Context, since time.Time) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for frame := 0; ; frame = (frame + 1) % len(SpinnerFrames) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		fmt.Fprintf(s.out, "\r%s %s (%s)", paint(toneInfo, SpinnerFrames[frame]), s.message,
			time.Since(since).Round(time.Second))
	}
}

// Stop halts the animation and clears its line. Stopping an idle spinner
// does nothing.
func (s *Spinner) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	fmt.Fprint(s.out, clearLine)
}

// WithSpinner runs fn while a spinner is shown on out.
func WithSpinner[T any](out io.Writer, message string, fn func() (T, error)) (T, error) {
	s := NewSpinner(out, message)
	s.Start()
	defer s.Stop()
	return fn()
}
