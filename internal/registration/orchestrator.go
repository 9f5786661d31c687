package registration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"roi-transfer/internal/codec"
	"roi-transfer/internal/host"
	rimage "roi-transfer/internal/image"
	"roi-transfer/internal/logger"
	"roi-transfer/internal/mask"
	"roi-transfer/internal/metrics"
	"roi-transfer/internal/roi"
	"roi-transfer/internal/scale"
	"roi-transfer/internal/warp"
)

// DefaultSuffix and DefaultMaxRegions are used when Options leaves them zero.
const (
	DefaultSuffix     = "-tr"
	DefaultMaxRegions = 2
)

// Request names the images and regions of one run. Lines and regions are
// looked up by name in the store entries of their images.
type Request struct {
	Source     string
	Target     string
	SourceLine string
	TargetLine string
	Regions    []string
	Direction  scale.Direction
}

// Options tunes an Orchestrator.
type Options struct {
	Suffix     string
	MaxRegions int
	// KeepResult opens the decoded result, carrying the committed regions,
	// in the registry instead of discarding it.
	KeepResult bool
}

// Deps are the host services an Orchestrator drives.
type Deps struct {
	Registry  host.Registry
	Store     roi.Store
	Engine    warp.Engine
	Confirmer host.Confirmer
	Log       logger.ILogger
	Metrics   metrics.Recorder
}

// Outcome describes a committed run.
type Outcome struct {
	RunID  string
	Scale  float64
	Policy scale.Policy
	// Committed holds the regions as added to the target's store entry.
	Committed roi.Collection
	Warnings  []string
	// ResultTitle is the registry title of the kept result, if any.
	ResultTitle string
}

// Orchestrator runs one registration at a time.
type Orchestrator struct {
	deps Deps
	opts Options

	mu      sync.Mutex
	state   State
	running bool
	cancel  context.CancelFunc
}

// New creates an Orchestrator. Nil logger and metrics are replaced with no-ops.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Log == nil {
		deps.Log = &logger.NullLogger{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if opts.Suffix == "" {
		opts.Suffix = DefaultSuffix
	}
	if opts.MaxRegions <= 0 {
		opts.MaxRegions = DefaultMaxRegions
	}
	return &Orchestrator{deps: deps, opts: opts}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Cancel aborts the running registration, if any.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// run carries the per-run state through the steps of Run.
type run struct {
	id      string
	req     Request
	policy  scale.Policy
	scale   float64
	ws      workingSet
	regions roi.Collection // the regions as encoded on the moving image
	session warp.Session
	warped  *rimage.Raster
	decoded roi.Collection
	warns   []string
}

// Run executes req to completion, cancellation or failure. On any error
// the store is left unchanged and the orchestrator is Aborted.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	o.running = true
	o.cancel = cancel
	o.state = Idle
	o.mu.Unlock()

	r := &run{id: uuid.NewString(), req: req, policy: scale.PolicyFor(req.Direction)}
	start := time.Now()
	defer func() {
		if r.session != nil {
			if err := r.session.Close(); err != nil {
				o.deps.Log.Errorf("[%s] closing engine: %v", r.id, err)
			}
		}
		r.ws.release()
		cancel()
		o.mu.Lock()
		o.running = false
		o.cancel = nil
		o.mu.Unlock()
	}()

	out, err := o.execute(ctx, r)
	outcome := "committed"
	if err != nil {
		outcome = "failed"
		if errors.Is(err, ErrCanceled) {
			outcome = "canceled"
		}
		o.setState(r.id, Aborted)
		o.deps.Log.Errorf("[%s] registration aborted: %v", r.id, err)
	}
	o.deps.Metrics.RunFinished(req.Direction.String(), outcome, time.Since(start))
	return out, err
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (*Outcome, error) {
	o.deps.Log.Infof("[%s] %s %q -> %s %q (%s)", r.id, r.policy.SourceLabel, r.req.Source, r.policy.TargetLabel, r.req.Target, r.policy.Direction)

	if err := o.configure(r); err != nil {
		return nil, err
	}
	o.setState(r.id, Configured)

	if err := o.encode(ctx, r); err != nil {
		return nil, err
	}
	o.setState(r.id, Encoded)

	if err := o.await(ctx, r); err != nil {
		return nil, err
	}

	if err := o.decode(ctx, r); err != nil {
		return nil, err
	}
	o.setState(r.id, Decoded)

	if err := o.rescale(r); err != nil {
		return nil, err
	}
	o.setState(r.id, Rescaled)

	out, err := o.commit(r)
	if err != nil {
		return nil, err
	}
	o.setState(r.id, Committed)
	return out, nil
}

func (o *Orchestrator) setState(runID string, s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()
	o.deps.Log.Infof("[%s] %s -> %s", runID, prev, s)
}

// configure resolves the request against the registry and store and computes s.
func (o *Orchestrator) configure(r *run) error {
	req := r.req
	if len(req.Regions) == 0 {
		return errors.Wrap(codec.ErrEmptyRegionSet, "no regions selected")
	}
	if len(req.Regions) > o.opts.MaxRegions {
		return errors.Wrapf(ErrTooManyRegions, "%d regions selected, at most %d allowed", len(req.Regions), o.opts.MaxRegions)
	}

	var ok bool
	if r.ws.Source, ok = o.deps.Registry.Get(req.Source); !ok {
		return errors.Errorf("source image %q is not open", req.Source)
	}
	if r.ws.Target, ok = o.deps.Registry.Get(req.Target); !ok {
		return errors.Errorf("target image %q is not open", req.Target)
	}
	if req.Source == req.Target {
		return errors.Errorf("source and target are the same image %q", req.Source)
	}

	sourceLine, err := o.findRegion(req.Source, req.SourceLine, (*roi.Region).IsLine, "line")
	if err != nil {
		return err
	}
	targetLine, err := o.findRegion(req.Target, req.TargetLine, (*roi.Region).IsLine, "line")
	if err != nil {
		return err
	}

	regions := make(roi.Collection, 0, len(req.Regions))
	for _, name := range req.Regions {
		region, err := o.findRegion(req.Source, name, (*roi.Region).IsArea, "area")
		if err != nil {
			return err
		}
		if err := scale.CheckFits(region, r.ws.Source); err != nil {
			return err
		}
		regions = append(regions, region)
	}

	s, err := scale.Compute(sourceLine, targetLine, r.ws.Source, r.ws.Target, req.Direction)
	if err != nil {
		return err
	}
	r.scale = s
	r.regions = regions
	o.deps.Log.Infof("[%s] scale factor %.4f from lines %q (%.2f px) and %q (%.2f px)",
		r.id, s, sourceLine.Name, sourceLine.Length(), targetLine.Name, targetLine.Length())
	return nil
}

func (o *Orchestrator) findRegion(title, name string, kind func(*roi.Region) bool, what string) (*roi.Region, error) {
	for _, region := range o.deps.Store.Regions(title) {
		if region.Name != name {
			continue
		}
		if !kind(region) {
			return nil, errors.Errorf("region %q on %q is a %s, want a %s region", name, title, region.Kind, what)
		}
		return region, nil
	}
	return nil, errors.Errorf("no region %q on %q", name, title)
}

// encode attaches the regions to the source, pre-scales one side and packs
// the moving image and its regions into the working composite.
func (o *Orchestrator) encode(ctx context.Context, r *run) error {
	if err := codec.ToOverlay(r.regions, r.ws.Source); err != nil {
		return err
	}

	preScaleSource := r.policy.PreScale == scale.SideSource
	side := r.ws.Target
	if preScaleSource {
		side = r.ws.Source
	}
	scaled, err := rimage.Resize(side, r.policy.PreScaleFactor(r.scale))
	if err != nil {
		return err
	}
	r.ws.Scaled = scaled

	moving := r.ws.Moving(preScaleSource)
	regions, err := codec.FromOverlay(moving, len(r.regions))
	if err != nil {
		return err
	}
	r.regions = regions

	composite, err := mask.Compose(ctx, regions, moving)
	if err != nil {
		return err
	}
	r.ws.WorkingComposite = composite
	o.deps.Log.Debugf("[%s] composite %q is %dx%d with %d channels", r.id, composite.Title, composite.Width(), composite.Height(), composite.Channels())
	return nil
}

// await starts the engine and blocks until the user accepts a result,
// cancels, or one of the run's images is closed.
func (o *Orchestrator) await(ctx context.Context, r *run) error {
	queue := newEventQueue()
	unsubscribe := o.deps.Registry.Subscribe(queue.push)
	defer unsubscribe()

	fixed := r.ws.Fixed(r.policy.PreScale == scale.SideSource)
	session, err := o.deps.Engine.Start(ctx, r.ws.WorkingComposite, fixed)
	if err != nil {
		if errors.Is(err, warp.ErrExternalToolUnavailable) {
			return err
		}
		return errors.Wrap(warp.ErrExternalToolUnavailable, err.Error())
	}
	r.session = session
	o.setState(r.id, AwaitingExternal)

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ErrCanceled, ctx.Err().Error())
		case <-queue.ready:
		}

		for _, e := range queue.drain() {
			done, err := o.handleEvent(ctx, r, e)
			if err != nil || done {
				return err
			}
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, r *run, e host.Event) (bool, error) {
	switch e.Type {
	case host.ImageClosed:
		if r.ws.holds(e.Title) {
			return false, errors.Wrapf(ErrImageClosed, "%q was closed", e.Title)
		}
		return false, nil
	case host.ImageUpdated:
		o.deps.Log.Debugf("[%s] %q updated", r.id, e.Title)
		return false, nil
	}

	if r.ws.holds(e.Title) || e.Image == nil || e.Image.Closed() {
		return false, nil
	}

	decision, err := o.deps.Confirmer.Confirm(ctx, e.Image)
	if err != nil {
		o.discard(r, e.Title)
		return false, errors.Wrap(ErrCanceled, err.Error())
	}
	o.deps.Log.Infof("[%s] %q: %s", r.id, e.Title, decision)

	switch decision {
	case host.Complete:
		if err := r.session.Close(); err != nil {
			o.deps.Log.Errorf("[%s] closing engine: %v", r.id, err)
		}
		r.session = nil
		r.warped = e.Image
		return true, nil
	case host.Continue:
		o.discard(r, e.Title)
		return false, nil
	default:
		o.discard(r, e.Title)
		return false, errors.Wrapf(ErrCanceled, "canceled at %q", e.Title)
	}
}

func (o *Orchestrator) discard(r *run, title string) {
	if err := o.deps.Registry.Close(title); err != nil {
		o.deps.Log.Debugf("[%s] discarding %q: %v", r.id, title, err)
	}
}

func (o *Orchestrator) decode(ctx context.Context, r *run) error {
	dec, err := mask.Decompose(ctx, r.warped, r.regions, mask.BaseChannel)
	if err != nil {
		return err
	}
	r.ws.Result = dec.Result

	degenerate := 0
	for _, region := range dec.Regions {
		if region.IsDegenerate() {
			degenerate++
		}
	}
	for _, w := range dec.Warnings {
		r.warns = append(r.warns, w.String())
		o.deps.Log.Infof("[%s] warning: %s", r.id, w)
	}
	o.deps.Metrics.RegionsDecoded(len(dec.Regions)-degenerate, degenerate)
	return nil
}

// rescale brings the decoded result back to the target's frame when the
// policy asks for it, then reads the regions off its overlay.
func (o *Orchestrator) rescale(r *run) error {
	expected := r.ws.Result.Overlay.Len()
	if r.policy.RestoreResult {
		restored, err := rimage.Resize(r.ws.Result, r.policy.RestoreFactor(r.scale))
		if err != nil {
			return err
		}
		r.ws.Result.Close()
		r.ws.Result = restored
	}

	regions, err := codec.FromOverlay(r.ws.Result, expected)
	if err != nil {
		return err
	}
	r.decoded = regions
	return nil
}

// commit adds the transformed regions to the target's store entry and
// selects them. Names are checked before anything is added.
func (o *Orchestrator) commit(r *run) (*Outcome, error) {
	target := r.ws.Target.Title
	taken := make(map[string]bool)
	for _, existing := range o.deps.Store.Regions(target) {
		taken[existing.Name] = true
	}

	var committed roi.Collection
	for _, region := range r.decoded {
		if region.IsDegenerate() {
			r.warns = append(r.warns, fmt.Sprintf("region %q was lost in the transformation and is not committed", region.Name))
			continue
		}
		if err := scale.CheckFits(region, r.ws.Target); err != nil {
			return nil, err
		}
		out := region.Clone()
		out.Name = uniqueName(taken, region.Name+o.opts.Suffix)
		taken[out.Name] = true
		committed = append(committed, out)
	}

	for _, region := range committed {
		if err := o.deps.Store.Add(target, region); err != nil {
			return nil, errors.Wrapf(err, "committing %q", region.Name)
		}
	}
	// an empty commit keeps the target's current selection
	if len(committed) > 0 {
		if err := o.deps.Store.Select(target, committed.Names()...); err != nil {
			return nil, err
		}
		if u, ok := o.deps.Registry.(interface{ Update(string) error }); ok {
			if err := u.Update(target); err != nil {
				o.deps.Log.Debugf("[%s] updating %q: %v", r.id, target, err)
			}
		}
	}

	out := &Outcome{
		RunID:     r.id,
		Scale:     r.scale,
		Policy:    r.policy,
		Committed: committed,
		Warnings:  r.warns,
	}

	if o.opts.KeepResult {
		result := r.ws.Result
		result.Overlay = roi.NewOverlay(committed)
		if err := o.deps.Registry.Open(result); err != nil {
			return nil, err
		}
		r.ws.Result = nil
		out.ResultTitle = result.Title
	}

	o.deps.Log.Infof("[%s] committed %v to %q", r.id, committed.Names(), target)
	return out, nil
}

func uniqueName(taken map[string]bool, name string) string {
	if !taken[name] {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if !taken[candidate] {
			return candidate
		}
	}
}
