package host

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	rimage "roi-transfer/internal/image"
)

// Decision is the user's verdict on a candidate warped image.
type Decision int

const (
	// Complete accepts the image as the registration result.
	Complete Decision = iota
	// Continue discards the image and keeps waiting for another.
	Continue
	// Cancel aborts the run.
	Cancel
)

func (d Decision) String() string {
	switch d {
	case Complete:
		return "complete"
	case Continue:
		return "continue"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Confirmer asks the user what to do with a newly opened image.
type Confirmer interface {
	Confirm(ctx context.Context, img *rimage.Raster) (Decision, error)
}

// PromptConfirmer asks on a text stream: "c" completes, "n" continues and
// "x" cancels. End of input cancels.
type PromptConfirmer struct {
	out io.Writer

	once  sync.Once
	in    io.Reader
	lines chan string

	closeOnce sync.Once
	done      chan struct{}
}

// NewPromptConfirmer reads answers from in and writes prompts to out.
func NewPromptConfirmer(in io.Reader, out io.Writer) *PromptConfirmer {
	return &PromptConfirmer{in: in, out: out, done: make(chan struct{})}
}

func (p *PromptConfirmer) start() {
	p.lines = make(chan string)
	go func() {
		defer close(p.lines)
		sc := bufio.NewScanner(p.in)
		for sc.Scan() {
			select {
			case <-p.done:
				return
			default:
			}
			select {
			case p.lines <- sc.Text():
			case <-p.done:
				return
			}
		}
	}()
}

// Close stops the reader. The read already in progress, if any, completes
// and its line is dropped; later Confirm calls cancel.
func (p *PromptConfirmer) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// Confirm prompts until a valid answer is read or ctx ends.
func (p *PromptConfirmer) Confirm(ctx context.Context, img *rimage.Raster) (Decision, error) {
	p.once.Do(p.start)

	for {
		fmt.Fprintf(p.out, "New image %q. Is this the registration result? [c]omplete / [n]ext / [x] cancel: ", img.Title)
		select {
		case <-ctx.Done():
			return Cancel, ctx.Err()
		case <-p.done:
			return Cancel, nil
		case line, ok := <-p.lines:
			if !ok {
				return Cancel, nil
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "c", "complete", "y", "yes":
				return Complete, nil
			case "n", "next", "continue":
				return Continue, nil
			case "x", "cancel", "q":
				return Cancel, nil
			}
			fmt.Fprintln(p.out, "Please answer c, n or x.")
		}
	}
}

// ScriptedConfirmer answers from a fixed list, then with Fallback.
type ScriptedConfirmer struct {
	mu        sync.Mutex
	Decisions []Decision
	Fallback  Decision
	Seen      []string
}

// Confirm returns the next scripted decision.
func (s *ScriptedConfirmer) Confirm(ctx context.Context, img *rimage.Raster) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Seen = append(s.Seen, img.Title)
	if len(s.Decisions) == 0 {
		return s.Fallback, nil
	}
	d := s.Decisions[0]
	s.Decisions = s.Decisions[1:]
	return d, nil
}
