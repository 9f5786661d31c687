package mask

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	rimage "roi-transfer/internal/image"
	"roi-transfer/internal/roi"
)

// BaseChannel is the channel index of the base image inside a composite.
// Region 0 goes in channel 0 and region i (i >= 1) in channel i+1.
const BaseChannel = 1

var (
	// ErrNoRegions is returned when composing an empty region set.
	ErrNoRegions = errors.New("no regions to compose")
	// ErrChannelCountTooLow is returned when a composite has fewer than two channels.
	ErrChannelCountTooLow = errors.New("composite needs at least two channels")
)

// Compose builds a k+1 channel 8-bit composite of base and one binary mask per
// region: [mask0, base, mask1, ..., mask(k-1)]. The base is converted to
// 8-bit grey if needed; base itself is not modified.
func Compose(ctx context.Context, regions roi.Collection, base *rimage.Raster) (*rimage.Raster, error) {
	if len(regions) == 0 {
		return nil, errors.Wrapf(ErrNoRegions, "composing %q", base.Title)
	}

	grey, err := rimage.To8Bit(base)
	if err != nil {
		return nil, errors.Wrapf(err, "converting %q to 8-bit", base.Title)
	}
	defer grey.Close()

	w, h := base.Width(), base.Height()
	masks := make([]*rimage.Raster, len(regions))
	defer func() {
		for _, m := range masks {
			if m != nil {
				m.Close()
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range regions {
		i, r := i, r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := Rasterize(r, w, h)
			if err != nil {
				return err
			}
			masks[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	channels := make([]*rimage.Raster, 0, len(regions)+1)
	channels = append(channels, masks[0], grey)
	channels = append(channels, masks[1:]...)

	comp, err := rimage.MergeChannels("Composite "+base.Title, channels)
	if err != nil {
		return nil, err
	}
	comp.Calibration = base.Calibration
	return comp, nil
}
