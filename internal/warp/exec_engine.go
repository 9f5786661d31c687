package warp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"roi-transfer/internal/host"
	rimage "roi-transfer/internal/image"
	"roi-transfer/internal/logger"
)

// ExecEngine runs an external registration program. The moving and fixed
// images are written to a run directory and the program is started with
// {moving}, {fixed} and {output} in Args replaced by their paths. Every image
// the program writes to {output} is opened in the registry once it has not
// changed for SettleDelay.
type ExecEngine struct {
	Command     string
	Args        []string
	WorkDir     string
	SettleDelay time.Duration
	Registry    host.Registry
	Log         logger.ILogger
}

type execSession struct {
	engine      *ExecEngine
	runDir      string
	outDir      string
	keepDir     bool
	calibration rimage.Calibration

	ctx     context.Context
	cancel  context.CancelFunc
	watcher *fsnotify.Watcher
	pending map[string]time.Time
	done    chan struct{}
	exited  chan struct{}
	once    sync.Once
}

// Start launches the program.
func (e *ExecEngine) Start(ctx context.Context, moving, fixed *rimage.Raster) (Session, error) {
	bin, err := exec.LookPath(e.Command)
	if err != nil {
		return nil, errors.Wrapf(ErrExternalToolUnavailable, "%q: %v", e.Command, err)
	}
	if moving.Channels() > 3 {
		return nil, fmt.Errorf("%q has %d channels; files handed to external tools hold at most 3", moving.Title, moving.Channels())
	}

	base := e.WorkDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	runDir, err := os.MkdirTemp(base, "roit-")
	if err != nil {
		return nil, err
	}

	s := &execSession{
		engine:      e,
		runDir:      runDir,
		outDir:      filepath.Join(runDir, "out"),
		keepDir:     e.WorkDir != "",
		calibration: fixed.Calibration,
		pending:     make(map[string]time.Time),
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
	}
	if err := s.prepare(moving, fixed); err != nil {
		os.RemoveAll(runDir)
		return nil, err
	}

	s.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		os.RemoveAll(runDir)
		return nil, errors.Wrapf(ErrExternalToolUnavailable, "file watcher: %v", err)
	}
	if err := s.watcher.Add(s.outDir); err != nil {
		s.watcher.Close()
		os.RemoveAll(runDir)
		return nil, errors.Wrapf(ErrExternalToolUnavailable, "watching %s: %v", s.outDir, err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	cmd := exec.CommandContext(s.ctx, bin, s.expandArgs()...)
	cmd.Dir = runDir
	if err := cmd.Start(); err != nil {
		s.cancel()
		s.watcher.Close()
		os.RemoveAll(runDir)
		return nil, errors.Wrapf(ErrExternalToolUnavailable, "starting %s: %v", e.Command, err)
	}
	s.log().Infof("Started %s in %s", e.Command, runDir)

	go func() {
		defer close(s.exited)
		if err := cmd.Wait(); err != nil && s.ctx.Err() == nil {
			s.log().Errorf("%s exited: %v", e.Command, err)
			return
		}
		s.log().Debugf("%s exited", e.Command)
	}()
	go s.watch()
	return s, nil
}

func (s *execSession) prepare(moving, fixed *rimage.Raster) error {
	if err := os.MkdirAll(s.outDir, 0o755); err != nil {
		return err
	}
	if err := rimage.Save(s.path("moving"), moving); err != nil {
		return errors.Wrap(err, "writing moving image")
	}
	if err := rimage.Save(s.path("fixed"), fixed); err != nil {
		return errors.Wrap(err, "writing fixed image")
	}
	return nil
}

func (s *execSession) path(name string) string {
	return filepath.Join(s.runDir, name+".tif")
}

func (s *execSession) expandArgs() []string {
	r := strings.NewReplacer(
		"{moving}", s.path("moving"),
		"{fixed}", s.path("fixed"),
		"{output}", s.outDir,
	)
	args := make([]string, len(s.engine.Args))
	for i, a := range s.engine.Args {
		args[i] = r.Replace(a)
	}
	return args
}

func (s *execSession) log() logger.ILogger {
	if s.engine.Log == nil {
		return logger.NullLogger{}
	}
	return s.engine.Log
}

// watch collects written files and opens each once it has settled.
func (s *execSession) watch() {
	defer close(s.done)

	settle := s.engine.SettleDelay
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	ticker := time.NewTicker(settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) && rimage.IsSupportedFormat(ev.Name) {
				s.pending[ev.Name] = time.Now()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log().Errorf("Output watcher: %v", err)
		case <-ticker.C:
			for name, last := range s.pending {
				if time.Since(last) < settle {
					continue
				}
				delete(s.pending, name)
				s.openResult(name)
			}
		}
	}
}

func (s *execSession) openResult(path string) {
	img, err := rimage.Load(path)
	if err != nil {
		s.log().Errorf("Cannot load result %s: %v", path, err)
		return
	}
	img.Calibration = s.calibration
	if err := s.engine.Registry.Open(img); err != nil {
		img.Close()
		s.log().Errorf("Cannot open result %s: %v", path, err)
	}
}

// Close stops the program and the watcher and removes the run directory
// unless a WorkDir was configured.
func (s *execSession) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.watcher.Close()
		<-s.done
		<-s.exited
		if !s.keepDir {
			if rmErr := os.RemoveAll(s.runDir); rmErr != nil && err == nil {
				err = rmErr
			}
		}
	})
	return err
}
