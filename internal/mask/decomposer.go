package mask

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"roi-transfer/internal/codec"
	rimage "roi-transfer/internal/image"
	"roi-transfer/internal/roi"
)

// Warning is a non-fatal problem found while decoding a composite.
type Warning struct {
	Channel int
	Region  string
	Message string
}

func (w Warning) String() string {
	if w.Region == "" {
		return fmt.Sprintf("channel %d: %s", w.Channel, w.Message)
	}
	return fmt.Sprintf("channel %d (%s): %s", w.Channel, w.Region, w.Message)
}

// Decoded is the output of Decompose.
type Decoded struct {
	// Result is the base channel, carrying Regions as its overlay.
	Result   *rimage.Raster
	Regions  roi.Collection
	Warnings []Warning
}

// Decompose splits a (warped) composite back into its base image and one
// traced region per mask channel. Mask channels are matched to regions by
// position, skipping baseIndex; surplus mask channels are ignored with a
// warning. An empty mask yields a degenerate region and a warning.
func Decompose(ctx context.Context, composite *rimage.Raster, regions roi.Collection, baseIndex int) (*Decoded, error) {
	if composite.Channels() < 2 {
		return nil, errors.Wrapf(ErrChannelCountTooLow, "%q has %d channel(s)", composite.Title, composite.Channels())
	}
	if baseIndex < 0 || baseIndex >= composite.Channels() {
		return nil, errors.Errorf("base channel %d out of range for %q (%d channels)", baseIndex, composite.Title, composite.Channels())
	}
	if composite.Channels()-1 < len(regions) {
		return nil, errors.Wrapf(codec.ErrCountMismatch, "%q has %d mask channels for %d regions",
			composite.Title, composite.Channels()-1, len(regions))
	}

	chans := rimage.SplitChannels(composite)
	defer func() {
		for i, c := range chans {
			if i != baseIndex {
				c.Close()
			}
		}
	}()

	var maskIdx []int
	for i := range chans {
		if i != baseIndex {
			maskIdx = append(maskIdx, i)
		}
	}

	out := &Decoded{Regions: make(roi.Collection, len(regions))}
	for _, idx := range maskIdx[len(regions):] {
		out.Warnings = append(out.Warnings, Warning{Channel: idx, Message: "no region for this channel, ignored"})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range regions {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pts, err := TraceLargest(chans[maskIdx[i]].Mat)
			if err != nil {
				return errors.Wrapf(err, "tracing channel %d", maskIdx[i])
			}
			out.Regions[i] = &roi.Region{Name: regions[i].Name, Kind: roi.KindTraced, Points: pts}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		chans[baseIndex].Close()
		return nil, err
	}

	for i, r := range out.Regions {
		if r.IsDegenerate() {
			out.Warnings = append(out.Warnings, Warning{Channel: maskIdx[i], Region: r.Name, Message: "mask is empty after warping"})
		}
	}

	result := chans[baseIndex]
	result.Title = composite.Title
	result.Calibration = composite.Calibration
	if err := codec.ToOverlay(out.Regions, result); err != nil {
		result.Close()
		return nil, err
	}
	out.Result = result
	return out, nil
}
