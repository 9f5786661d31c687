// Package warp provides the engines that carry a moving image onto a fixed
// image. Engines deliver their output by opening images in a host registry.
package warp

import (
	"context"

	"github.com/pkg/errors"

	rimage "roi-transfer/internal/image"
)

// ErrExternalToolUnavailable is returned when an engine cannot be started.
var ErrExternalToolUnavailable = errors.New("external registration tool unavailable")

// Engine starts a registration of moving onto fixed. Results appear as
// ImageOpened events in the engine's registry, possibly several times.
type Engine interface {
	Start(ctx context.Context, moving, fixed *rimage.Raster) (Session, error)
}

// Session is a running engine. Close tears it down and releases its inputs.
type Session interface {
	Close() error
}
