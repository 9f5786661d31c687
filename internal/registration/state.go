// Package registration runs the region transfer: encode regions as masks,
// hand the composite to a warp engine, wait for the user to accept a result,
// decode, rescale and commit the transformed regions.
package registration

import (
	"sync"

	"github.com/pkg/errors"

	"roi-transfer/internal/host"
	rimage "roi-transfer/internal/image"
)

// State is the orchestrator's position in a run.
type State int

const (
	Idle State = iota
	Configured
	Encoded
	AwaitingExternal
	Decoded
	Rescaled
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Configured:
		return "Configured"
	case Encoded:
		return "Encoded"
	case AwaitingExternal:
		return "AwaitingExternal"
	case Decoded:
		return "Decoded"
	case Rescaled:
		return "Rescaled"
	case Committed:
		return "Committed"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

var (
	// ErrBusy is returned by Run while another run is in progress.
	ErrBusy = errors.New("a registration is already running")
	// ErrCanceled is returned when the user or the caller cancels a run.
	ErrCanceled = errors.New("registration canceled")
	// ErrImageClosed is returned when the source or target image is closed mid-run.
	ErrImageClosed = errors.New("image closed during registration")
	// ErrTooManyRegions is returned when a request names more regions than allowed.
	ErrTooManyRegions = errors.New("too many regions")
	// ErrPrerequisites is returned when the host does not hold enough images
	// or regions to start a run.
	ErrPrerequisites = errors.New("registration prerequisites not met")
)

// workingSet holds the rasters of one run. Source and Target belong to the
// registry; the rest are transient and released at the end of the run.
type workingSet struct {
	Source           *rimage.Raster
	Target           *rimage.Raster
	Scaled           *rimage.Raster // the pre-scaled source (Inc) or target (Dec)
	WorkingComposite *rimage.Raster
	Result           *rimage.Raster
}

// Moving and Fixed are the engine inputs' frames before compositing.
func (ws *workingSet) Moving(preScaleSource bool) *rimage.Raster {
	if preScaleSource {
		return ws.Scaled
	}
	return ws.Source
}

func (ws *workingSet) Fixed(preScaleSource bool) *rimage.Raster {
	if preScaleSource {
		return ws.Target
	}
	return ws.Scaled
}

// holds reports whether title names one of the run's registry images.
func (ws *workingSet) holds(title string) bool {
	return (ws.Source != nil && ws.Source.Title == title) || (ws.Target != nil && ws.Target.Title == title)
}

func (ws *workingSet) release() {
	for _, r := range []**rimage.Raster{&ws.Scaled, &ws.WorkingComposite, &ws.Result} {
		if *r != nil {
			(*r).Close()
			*r = nil
		}
	}
}

// eventQueue buffers registry events so handlers never block the host.
type eventQueue struct {
	mu     sync.Mutex
	events []host.Event
	ready  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(e host.Event) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []host.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}
