package roi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"roi-transfer/pkg/geometry"
)

// Store is the host's region manager: named regions per image title.
type Store interface {
	// Regions returns copies of the regions stored for an image, in order.
	Regions(imageTitle string) Collection
	// Add appends a region to an image's collection.
	Add(imageTitle string, r *Region) error
	// Select makes the named regions the active selection for an image.
	Select(imageTitle string, names ...string) error
	// Selected returns the active selection for an image.
	Selected(imageTitle string) []string
}

// MemStore is an in-memory Store.
type MemStore struct {
	mu       sync.RWMutex
	regions  map[string]Collection
	selected map[string][]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		regions:  make(map[string]Collection),
		selected: make(map[string][]string),
	}
}

// Regions returns copies of the regions stored for an image.
func (s *MemStore) Regions(imageTitle string) Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regions[imageTitle].Clone()
}

// Add appends a copy of r. Names must be unique per image.
func (s *MemStore) Add(imageTitle string, r *Region) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.regions[imageTitle] {
		if existing.Name == r.Name {
			return fmt.Errorf("region %q already exists on %q", r.Name, imageTitle)
		}
	}
	s.regions[imageTitle] = append(s.regions[imageTitle], r.Clone())
	return nil
}

// Select sets the active selection. Every name must exist.
func (s *MemStore) Select(imageTitle string, names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		if !s.hasLocked(imageTitle, n) {
			return fmt.Errorf("no region %q on %q", n, imageTitle)
		}
	}
	s.selected[imageTitle] = append([]string(nil), names...)
	return nil
}

// Selected returns the active selection.
func (s *MemStore) Selected(imageTitle string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.selected[imageTitle]...)
}

func (s *MemStore) hasLocked(imageTitle, name string) bool {
	for _, r := range s.regions[imageTitle] {
		if r.Name == name {
			return true
		}
	}
	return false
}

// File is the on-disk region set used by the command line host (.roiset.json).
type File struct {
	Version  int                  `json:"version"`
	Modified time.Time            `json:"modified"`
	Images   map[string]ImageData `json:"images"`
}

// ImageData holds the regions and selection for one image.
type ImageData struct {
	Regions  []RegionData `json:"regions"`
	Selected []string     `json:"selected,omitempty"`
}

// RegionData is the serialized form of a Region.
type RegionData struct {
	Name   string             `json:"name"`
	Kind   string             `json:"kind"`
	Points []geometry.Point2D `json:"points"`
}

// LoadFile reads a region set file into a new MemStore. Area outlines are
// normalised: repeated, closing and collinear vertices are dropped.
func LoadFile(path string) (*MemStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse region set %s: %w", path, err)
	}

	s := NewMemStore()
	for title, img := range f.Images {
		for _, rd := range img.Regions {
			r := &Region{Name: rd.Name, Kind: ParseKind(rd.Kind), Points: rd.Points}
			if !r.IsLine() {
				r.Points = geometry.RemoveCollinear(r.Points)
			}
			if err := s.Add(title, r); err != nil {
				return nil, err
			}
		}
		if len(img.Selected) > 0 {
			if err := s.Select(title, img.Selected...); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// SaveFile writes the store to a region set file.
func (s *MemStore) SaveFile(path string) error {
	s.mu.RLock()
	f := File{
		Version:  1,
		Modified: time.Now(),
		Images:   make(map[string]ImageData, len(s.regions)),
	}
	for title, regions := range s.regions {
		img := ImageData{Selected: append([]string(nil), s.selected[title]...)}
		for _, r := range regions {
			img.Regions = append(img.Regions, RegionData{
				Name:   r.Name,
				Kind:   r.Kind.String(),
				Points: r.Points,
			})
		}
		f.Images[title] = img
	}
	data, err := json.MarshalIndent(f, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
