package tasks

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stevecastle/depthmask/appconfig"
	"github.com/stevecastle/depthmask/compositor"
	"github.com/stevecastle/depthmask/jobqueue"
	"github.com/stevecastle/depthmask/render"
	"github.com/stevecastle/depthmask/source"
)

// Views a render can produce.
const (
	ViewColor     = "color"
	ViewDepth     = "depth"
	ViewMask      = "mask"
	ViewComposite = "composite"
	ViewDisparity = "disparity"
)

var (
	loaderMu sync.RWMutex
	loader   = source.NewLoader(source.S3Config{})
)

// SetLoader replaces the loader used by tasks and Render.
func SetLoader(l *source.Loader) {
	loaderMu.Lock()
	loader = l
	loaderMu.Unlock()
}

func currentLoader() *source.Loader {
	loaderMu.RLock()
	defer loaderMu.RUnlock()
	return loader
}

// RenderOptions describe one render of a capture.
type RenderOptions struct {
	View            string
	Aux             string
	AuxKind         compositor.AuxiliaryKind
	Rotate          string
	Background      string
	BackgroundColor string
	Output          string
	Quality         int
	Params          compositor.CalibrationParams
}

// DefaultRenderOptions seeds options from the stored compositor defaults.
func DefaultRenderOptions(c appconfig.Compositor) (RenderOptions, error) {
	p, err := c.Params()
	if err != nil {
		return RenderOptions{}, err
	}
	return RenderOptions{
		View:            ViewComposite,
		Background:      c.BackgroundPath,
		BackgroundColor: c.BackgroundColor,
		Quality:         c.JPEGQuality,
		Params:          p,
	}, nil
}

// ParseRenderOptions applies --key=value job arguments on top of opts.
func ParseRenderOptions(args []string, opts RenderOptions) (RenderOptions, error) {
	for _, arg := range args {
		key, val, ok := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !ok {
			return opts, fmt.Errorf("%w: argument %q is not --key=value", compositor.ErrInvalidParameter, arg)
		}
		if err := opts.Set(strings.ToLower(key), val); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

// Set applies a single named option.
func (o *RenderOptions) Set(key, val string) error {
	num := func(dst *float64) error {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", compositor.ErrInvalidParameter, key, val)
		}
		*dst = f
		return nil
	}
	var err error
	switch key {
	case "view":
		o.View = strings.ToLower(val)
	case "aux", "depth":
		o.Aux = val
	case "kind":
		o.AuxKind, err = compositor.ParseAuxiliaryKind(val)
	case "rotate":
		o.Rotate = val
	case "background", "bg":
		o.Background = val
	case "bg-color", "background-color":
		o.BackgroundColor = val
	case "out", "output":
		o.Output = val
	case "quality":
		o.Quality, err = strconv.Atoi(val)
	case "mode":
		o.Params.Mode, err = compositor.ParseCalibrationMode(val)
	case "slope":
		err = num(&o.Params.Slope)
	case "focus":
		err = num(&o.Params.Focus)
	case "range":
		err = num(&o.Params.Range)
	case "min":
		err = num(&o.Params.MinThreshold)
	case "max":
		err = num(&o.Params.MaxThreshold)
	case "clip-low":
		err = num(&o.Params.ClipLow)
	case "clip-high":
		err = num(&o.Params.ClipHigh)
	case "feather":
		err = num(&o.Params.Feather)
	case "interp", "interpolation":
		o.Params.Interpolation = val
	default:
		return fmt.Errorf("%w: unknown option %q", compositor.ErrInvalidParameter, key)
	}
	return err
}

// NewCompositor loads the capture at input and configures a compositor for
// opts.
func NewCompositor(ctx context.Context, input string, opts RenderOptions) (*compositor.ImageCompositor, error) {
	l := currentLoader()
	capture, err := l.Load(ctx, input, opts.Aux, source.Options{AuxKind: opts.AuxKind, Rotate: opts.Rotate})
	if err != nil {
		return nil, err
	}
	ic := compositor.New(*capture)
	ic.Params = opts.Params
	if opts.BackgroundColor != "" {
		c, err := compositor.ParseHexColor(opts.BackgroundColor)
		if err != nil {
			return nil, err
		}
		ic.BackgroundColor = c
	}
	if opts.Background != "" {
		bg, err := l.LoadImage(ctx, opts.Background)
		if err != nil {
			return nil, fmt.Errorf("background: %w", err)
		}
		ic.Background = bg
	}
	return ic, nil
}

// View renders one of the compositor's outputs.
func View(ic *compositor.ImageCompositor, view string) (*compositor.Image, error) {
	switch view {
	case ViewColor:
		return ic.ColorImage()
	case ViewDepth:
		disp, err := ic.DepthImage()
		if err != nil {
			return nil, err
		}
		return normalizeForDisplay(disp)
	case ViewDisparity:
		return ic.DepthImage()
	case ViewMask:
		return ic.AlphaMaskImage(true)
	case ViewComposite, "":
		return ic.ComposedImage()
	}
	return nil, fmt.Errorf("%w: unknown view %q", compositor.ErrInvalidParameter, view)
}

// Render loads input and produces the requested view.
func Render(ctx context.Context, input string, opts RenderOptions) (*compositor.Image, error) {
	ic, err := NewCompositor(ctx, input, opts)
	if err != nil {
		return nil, err
	}
	return View(ic, opts.View)
}

// normalizeForDisplay stretches disparity over its observed range.
func normalizeForDisplay(disp *compositor.Image) (*compositor.Image, error) {
	lo, hi, err := compositor.ObservedRange(disp)
	if err != nil || lo == hi {
		return disp, nil
	}
	c, err := compositor.StretchCurve(lo, hi)
	if err != nil {
		return nil, err
	}
	return c.Apply(disp)
}

// OutputPath returns opts.Output or a name derived from input under dir.
func OutputPath(dir, input, view string, opts RenderOptions) string {
	if opts.Output != "" {
		return opts.Output
	}
	ref, err := source.ParseRef(input)
	base := filepath.Base(input)
	if err == nil {
		base = ref.Name()
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	ext := ".png"
	if view == ViewDisparity {
		ext = ".exr"
	}
	return filepath.Join(dir, base+"."+view+ext)
}

func renderTask(view string) TaskFunc {
	return func(j *jobqueue.Job, q *jobqueue.Queue) error {
		cfg := appconfig.Get()
		opts, err := DefaultRenderOptions(cfg.Compositor)
		if err != nil {
			return err
		}
		opts, err = ParseRenderOptions(j.Arguments, opts)
		if err != nil {
			return err
		}
		opts.View = view

		start := time.Now()
		q.PushJobStdout(j.ID, "Loading "+j.Input)
		ic, err := NewCompositor(j.Ctx, j.Input, opts)
		if err != nil {
			return err
		}
		if err := j.Ctx.Err(); err != nil {
			return err
		}

		q.PushJobStdout(j.ID, fmt.Sprintf("Rendering %s (%s calibration)", view, opts.Params.Mode))
		img, err := View(ic, view)
		if err != nil {
			return err
		}
		if lo, hi, ok := ic.ObservedRange(); ok {
			q.PushJobStdout(j.ID, fmt.Sprintf("Observed disparity range [%.4f, %.4f]", lo, hi))
		}
		if err := j.Ctx.Err(); err != nil {
			return err
		}

		out := OutputPath(cfg.OutputPath, j.Input, view, opts)
		if err := render.WriteFile(out, img, opts.Quality); err != nil {
			return err
		}
		q.SetOutput(j.ID, out)
		q.PushJobStdout(j.ID, fmt.Sprintf("Wrote %s in %s", out, time.Since(start).Round(time.Millisecond)))
		return q.CompleteJob(j.ID)
	}
}

var (
	compositeTask = renderTask(ViewComposite)
	maskTask      = renderTask(ViewMask)
	disparityTask = renderTask(ViewDisparity)
)
