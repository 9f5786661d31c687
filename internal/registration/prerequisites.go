package registration

import (
	"github.com/pkg/errors"

	"roi-transfer/internal/host"
	"roi-transfer/internal/roi"
)

// CheckPrerequisites reports whether a run can be set up at all: two open
// images, two measurement lines and at least one area region among them.
func CheckPrerequisites(registry host.Registry, store roi.Store) error {
	titles := registry.Titles()
	if len(titles) < 2 {
		return errors.Wrapf(ErrPrerequisites, "%d image(s) open, need at least 2", len(titles))
	}

	lines, areas := 0, 0
	for _, title := range titles {
		for _, r := range store.Regions(title) {
			switch {
			case r.IsLine():
				lines++
			case r.IsArea():
				areas++
			}
		}
	}
	if lines < 2 {
		return errors.Wrapf(ErrPrerequisites, "%d line region(s), need one on each image", lines)
	}
	if areas < 1 {
		return errors.Wrap(ErrPrerequisites, "no area region to transfer")
	}
	return nil
}
