// Command roit transfers area regions from one image to another through a
// warp engine: regions are packed as mask channels, warped with the image,
// traced back and added to the target's region set.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"roi-transfer/internal/config"
	"roi-transfer/internal/host"
	rimage "roi-transfer/internal/image"
	"roi-transfer/internal/logger"
	"roi-transfer/internal/mask"
	"roi-transfer/internal/metrics"
	"roi-transfer/internal/registration"
	"roi-transfer/internal/roi"
	"roi-transfer/internal/scale"
	"roi-transfer/internal/version"
	"roi-transfer/internal/warp"
)

type options struct {
	configPath  string
	source      string
	target      string
	regions     string
	sourceLine  string
	targetLine  string
	roiNames    string
	direction   string
	engine      string
	landmarks   string
	out         string
	saveResult  string
	preview     string
	showVersion bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to a YAML or TOML config file")
	flag.StringVar(&opts.source, "source", "", "Path to the source image")
	flag.StringVar(&opts.target, "target", "", "Path to the target image")
	flag.StringVar(&opts.regions, "regions", "", "Path to the region set file (JSON)")
	flag.StringVar(&opts.sourceLine, "source-line", "", "Name of the measurement line on the source")
	flag.StringVar(&opts.targetLine, "target-line", "", "Name of the measurement line on the target")
	flag.StringVar(&opts.roiNames, "roi", "", "Comma-separated area regions on the source to transfer")
	flag.StringVar(&opts.direction, "direction", "inc", "inc (source is the smaller image) or dec")
	flag.StringVar(&opts.engine, "engine", "", "Warp engine: landmarks or exec (overrides config)")
	flag.StringVar(&opts.landmarks, "landmarks", "", "Landmarks CSV for the landmarks engine (overrides config)")
	flag.StringVar(&opts.out, "out", "", "Where to write the updated region set (default: -regions)")
	flag.StringVar(&opts.saveResult, "save-result", "", "Save the transformed base image (PNG or TIFF)")
	flag.StringVar(&opts.preview, "preview", "", "Write a PNG preview of the composite handed to the engine")
	flag.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if opts.showVersion {
		fmt.Println(version.String())
		return
	}
	if opts.source == "" || opts.target == "" || opts.regions == "" || opts.roiNames == "" {
		fmt.Println("Usage: roit -source <img> -target <img> -regions <file> -source-line <name> -target-line <name> -roi <a[,b]> [-direction inc|dec]")
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "roit: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.engine != "" {
		cfg.Engine.Kind = opts.engine
	}
	if opts.landmarks != "" {
		cfg.Engine.Landmarks = opts.landmarks
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	lg := logger.NewStdOutLogger(logger.ParseLevel(cfg.Logging.Level))

	dir, err := scale.ParseDirection(opts.direction)
	if err != nil {
		return err
	}

	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.Metrics.Addr != "" {
		prom := metrics.NewPrometheus()
		recorder = prom
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				lg.Errorf("metrics server: %v", err)
			}
		}()
	}

	registry := host.NewMemRegistry()
	defer registry.CloseAll()

	sourceTitle, err := openImage(registry, opts.source)
	if err != nil {
		return err
	}
	targetTitle, err := openImage(registry, opts.target)
	if err != nil {
		return err
	}

	store, err := roi.LoadFile(opts.regions)
	if err != nil {
		return err
	}
	if err := registration.CheckPrerequisites(registry, store); err != nil {
		return err
	}

	var engine warp.Engine
	switch cfg.Engine.Kind {
	case "exec":
		engine = &warp.ExecEngine{
			Command:     cfg.Engine.Command,
			Args:        cfg.Engine.Args,
			WorkDir:     cfg.Engine.WorkDir,
			SettleDelay: cfg.Engine.SettleDelay.Duration,
			Registry:    registry,
			Log:         lg,
		}
	default:
		if cfg.Engine.Landmarks == "" {
			return fmt.Errorf("the landmarks engine needs -landmarks or engine.landmarks")
		}
		engine = &warp.LandmarkEngine{
			Path:     cfg.Engine.Landmarks,
			Registry: registry,
			Log:      lg,
		}
	}
	if opts.preview != "" {
		engine = &previewEngine{Engine: engine, path: opts.preview}
	}

	confirmer := host.NewPromptConfirmer(os.Stdin, os.Stdout)
	defer confirmer.Close()

	orch := registration.New(registration.Deps{
		Registry:  registry,
		Store:     store,
		Engine:    engine,
		Confirmer: confirmer,
		Log:       lg,
		Metrics:   recorder,
	}, registration.Options{
		Suffix:     cfg.Registration.Suffix,
		MaxRegions: cfg.Registration.MaxRegions,
		KeepResult: opts.saveResult != "",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	policy := scale.PolicyFor(dir)
	fmt.Printf("%s: %s\n%s: %s\n", policy.SourceLabel, sourceTitle, policy.TargetLabel, targetTitle)
	fmt.Println("Waiting for the warped image: [c]omplete, [n]ext, or [x] cancel")

	out, err := orch.Run(ctx, registration.Request{
		Source:     sourceTitle,
		Target:     targetTitle,
		SourceLine: opts.sourceLine,
		TargetLine: opts.targetLine,
		Regions:    splitNames(opts.roiNames),
		Direction:  dir,
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nRun %s\n", out.RunID)
	fmt.Printf("Scale factor: %.4f (%s)\n", out.Scale, out.Policy.Direction)
	for _, r := range out.Committed {
		b := r.Bounds()
		fmt.Printf("  %-20s area %.1f px², bounds %.0fx%.0f at (%.0f,%.0f)\n", r.Name, r.Area(), b.Width, b.Height, b.X, b.Y)
	}
	for _, w := range out.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}

	dest := opts.out
	if dest == "" {
		dest = opts.regions
	}
	if err := store.SaveFile(dest); err != nil {
		return err
	}
	fmt.Printf("Region set written to %s\n", dest)

	if opts.saveResult != "" {
		result, ok := registry.Get(out.ResultTitle)
		if !ok {
			return fmt.Errorf("result image %q is no longer open", out.ResultTitle)
		}
		if err := rimage.Save(opts.saveResult, result); err != nil {
			return err
		}
		fmt.Printf("Result written to %s\n", opts.saveResult)
	}
	return nil
}

func openImage(registry host.Registry, path string) (string, error) {
	img, err := rimage.Load(path)
	if err != nil {
		return "", err
	}
	if err := registry.Open(img); err != nil {
		img.Close()
		return "", err
	}
	return img.Title, nil
}

func splitNames(s string) []string {
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// previewEngine writes a tinted preview of each composite before handing
// it to the wrapped engine.
type previewEngine struct {
	warp.Engine
	path string
}

func (p *previewEngine) Start(ctx context.Context, moving, fixed *rimage.Raster) (warp.Session, error) {
	img, err := rimage.Preview(moving, mask.BaseChannel, rimage.BlendNormal, 0.5)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(p.path)
	if err != nil {
		return nil, err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return p.Engine.Start(ctx, moving, fixed)
}
