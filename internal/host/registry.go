// Package host models the image-hosting environment a registration run lives
// in: the registry of open images with its lifecycle events, and the channel
// through which the user confirms a warped result.
package host

import (
	"fmt"
	"sort"
	"sync"

	rimage "roi-transfer/internal/image"
)

// EventType identifies registry events.
type EventType int

const (
	ImageOpened EventType = iota
	ImageClosed
	ImageUpdated
)

func (t EventType) String() string {
	switch t {
	case ImageOpened:
		return "opened"
	case ImageClosed:
		return "closed"
	case ImageUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// Event describes a change to an open image. Image is nil for ImageClosed.
type Event struct {
	Type  EventType
	Title string
	Image *rimage.Raster
}

// Handler is called synchronously for every event. Handlers must not block.
type Handler func(Event)

// Registry is the set of open images.
type Registry interface {
	Titles() []string
	Get(title string) (*rimage.Raster, bool)
	// Open adds an image, renaming it if its title is taken, and emits ImageOpened.
	Open(img *rimage.Raster) error
	// Close removes an image, emits ImageClosed and releases its pixels.
	Close(title string) error
	// Subscribe registers h for all events until the returned func is called.
	Subscribe(h Handler) (unsubscribe func())
}

// MemRegistry is an in-process Registry.
type MemRegistry struct {
	mu       sync.RWMutex
	images   map[string]*rimage.Raster
	order    []string
	handlers map[int]Handler
	nextID   int
}

// NewMemRegistry creates an empty registry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{
		images:   make(map[string]*rimage.Raster),
		handlers: make(map[int]Handler),
	}
}

// Titles returns the open image titles in the order they were opened.
func (r *MemRegistry) Titles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Get returns the open image with the given title.
func (r *MemRegistry) Get(title string) (*rimage.Raster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	img, ok := r.images[title]
	return img, ok
}

// Open adds img. A taken title gets a "-1", "-2", ... suffix.
func (r *MemRegistry) Open(img *rimage.Raster) error {
	if img == nil || img.Closed() {
		return fmt.Errorf("cannot open a closed image")
	}

	r.mu.Lock()
	title := img.Title
	for n := 1; ; n++ {
		if _, taken := r.images[title]; !taken {
			break
		}
		title = fmt.Sprintf("%s-%d", img.Title, n)
	}
	img.Title = title
	r.images[title] = img
	r.order = append(r.order, title)
	r.mu.Unlock()

	r.emit(Event{Type: ImageOpened, Title: title, Image: img})
	return nil
}

// Close removes and releases the named image.
func (r *MemRegistry) Close(title string) error {
	r.mu.Lock()
	img, ok := r.images[title]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("no open image %q", title)
	}
	delete(r.images, title)
	for i, t := range r.order {
		if t == title {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.emit(Event{Type: ImageClosed, Title: title})
	return img.Close()
}

// Update announces that an open image's pixels or overlay changed.
func (r *MemRegistry) Update(title string) error {
	img, ok := r.Get(title)
	if !ok {
		return fmt.Errorf("no open image %q", title)
	}
	r.emit(Event{Type: ImageUpdated, Title: title, Image: img})
	return nil
}

// CloseAll closes every open image.
func (r *MemRegistry) CloseAll() {
	for _, t := range r.Titles() {
		_ = r.Close(t)
	}
}

// Subscribe registers h.
func (r *MemRegistry) Subscribe(h Handler) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.handlers[id] = h
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.handlers, id)
			r.mu.Unlock()
		})
	}
}

func (r *MemRegistry) emit(e Event) {
	r.mu.RLock()
	ids := make([]int, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, len(ids))
	for i, id := range ids {
		handlers[i] = r.handlers[id]
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
