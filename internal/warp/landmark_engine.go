package warp

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"roi-transfer/internal/host"
	rimage "roi-transfer/internal/image"
	"roi-transfer/internal/logger"
	"roi-transfer/pkg/geometry"
)

// WarpLandmarks resamples moving into a width x height image in the fixed
// frame. Three landmarks give an affine warp; more give a thin-plate spline.
func WarpLandmarks(ctx context.Context, moving gocv.Mat, lms []Landmark, width, height int) (gocv.Mat, error) {
	movingPts := make([]geometry.Point2D, len(lms))
	fixedPts := make([]geometry.Point2D, len(lms))
	for i, lm := range lms {
		movingPts[i] = lm.Moving
		fixedPts[i] = lm.Fixed
	}

	switch {
	case len(lms) < 3:
		return gocv.Mat{}, fmt.Errorf("need at least 3 landmarks, got %d", len(lms))
	case len(lms) == 3:
		t, err := FitAffine(movingPts, fixedPts)
		if err != nil {
			return gocv.Mat{}, err
		}
		return WarpAffine(moving, t, width, height), nil
	}

	// The spline maps fixed -> moving so every output pixel can be pulled.
	tps, err := FitTPS(fixedPts, movingPts)
	if err != nil {
		return gocv.Mat{}, err
	}

	mapX := gocv.NewMatWithSize(height, width, gocv.MatTypeCV32F)
	defer mapX.Close()
	mapY := gocv.NewMatWithSize(height, width, gocv.MatTypeCV32F)
	defer mapY.Close()
	xs, err := mapX.DataPtrFloat32()
	if err != nil {
		return gocv.Mat{}, err
	}
	ys, err := mapY.DataPtrFloat32()
	if err != nil {
		return gocv.Mat{}, err
	}

	bands := runtime.NumCPU()
	rowsPer := (height + bands - 1) / bands
	g, gctx := errgroup.WithContext(ctx)
	for y0 := 0; y0 < height; y0 += rowsPer {
		y0, y1 := y0, min(y0+rowsPer, height)
		g.Go(func() error {
			for y := y0; y < y1; y++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				for x := 0; x < width; x++ {
					p := tps.Apply(geometry.Point2D{X: float64(x), Y: float64(y)})
					xs[y*width+x] = float32(p.X)
					ys[y*width+x] = float32(p.Y)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return gocv.Mat{}, err
	}

	dst := gocv.NewMat()
	gocv.Remap(moving, &dst, &mapX, &mapY, gocv.InterpolationLinear, gocv.BorderConstant, blackBorder)
	return dst, nil
}

// LandmarkEngine warps with landmarks read from a BigWarp-style CSV and
// warps again every time the file changes, so the user can refine the
// landmarks in another tool and inspect each result.
type LandmarkEngine struct {
	Path     string
	Registry host.Registry
	Log      logger.ILogger
	// Debounce is how long the file must be quiet before re-warping.
	Debounce time.Duration
}

type landmarkSession struct {
	engine *LandmarkEngine
	path   string
	moving *rimage.Raster
	fixed  fixedFrame

	ctx     context.Context
	cancel  context.CancelFunc
	watcher *fsnotify.Watcher
	done    chan struct{}
	started bool
	once    sync.Once
}

type fixedFrame struct {
	width, height int
	calibration   rimage.Calibration
}

// Start warps once and keeps watching the landmarks file until the session
// is closed.
func (e *LandmarkEngine) Start(ctx context.Context, moving, fixed *rimage.Raster) (Session, error) {
	if e.Path == "" {
		return nil, errors.Wrap(ErrExternalToolUnavailable, "no landmarks file configured")
	}
	path, err := filepath.Abs(e.Path)
	if err != nil {
		return nil, errors.Wrap(ErrExternalToolUnavailable, err.Error())
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrapf(ErrExternalToolUnavailable, "file watcher: %v", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(ErrExternalToolUnavailable, "watching %s: %v", filepath.Dir(path), err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &landmarkSession{
		engine:  e,
		path:    path,
		moving:  moving.Duplicate(moving.Title),
		fixed:   fixedFrame{width: fixed.Width(), height: fixed.Height(), calibration: fixed.Calibration},
		ctx:     sctx,
		cancel:  cancel,
		watcher: watcher,
		done:    make(chan struct{}),
	}

	if err := s.warpAndOpen(); err != nil {
		s.Close()
		return nil, errors.Wrapf(ErrExternalToolUnavailable, "initial warp: %v", err)
	}

	s.started = true
	go s.watch()
	return s, nil
}

func (s *landmarkSession) log() logger.ILogger {
	if s.engine.Log == nil {
		return logger.NullLogger{}
	}
	return s.engine.Log
}

func (s *landmarkSession) warpAndOpen() error {
	lms, err := ReadLandmarks(s.path)
	if err != nil {
		return err
	}
	warped, err := WarpLandmarks(s.ctx, s.moving.Mat, lms, s.fixed.width, s.fixed.height)
	if err != nil {
		return err
	}

	out := rimage.NewRaster("Warped "+s.moving.Title, warped)
	out.Calibration = s.fixed.calibration
	s.log().Infof("Warped %q with %d landmarks", s.moving.Title, len(lms))
	if err := s.engine.Registry.Open(out); err != nil {
		out.Close()
		return err
	}
	return nil
}

func (s *landmarkSession) watch() {
	defer close(s.done)

	debounce := s.engine.Debounce
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			fire = timer.C
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log().Errorf("Landmark watcher: %v", err)
		case <-fire:
			fire = nil
			if err := s.warpAndOpen(); err != nil {
				s.log().Errorf("Re-warp failed: %v", err)
			}
		}
	}
}

// Close stops watching and releases the session's copy of the moving image.
func (s *landmarkSession) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.watcher.Close()
		if s.started {
			<-s.done
		}
		s.moving.Close()
	})
	return err
}
