// Command depthmask composites a depth-enabled photo over a background in
// one shot, without the server or job queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/stevecastle/depthmask/compositor"
	"github.com/stevecastle/depthmask/render"
	"github.com/stevecastle/depthmask/source"
	"github.com/stevecastle/depthmask/tasks"
)

func main() {
	def := compositor.DefaultParams()

	inPath := flag.String("in", "", "input color image path or s3://bucket/key")
	auxPath := flag.String("aux", "", "depth or disparity map (default: <name>.disparity.* / <name>.depth.* sidecar)")
	kind := flag.String("kind", "", "auxiliary kind: depth|disparity (default: inferred from file name)")
	outPath := flag.String("out", "", "output path; extension picks png|jpg|exr (default: <name>.<view>.png)")
	view := flag.String("view", tasks.ViewComposite, "output: composite|mask|depth|disparity|color")
	rotate := flag.String("rotate", "", "rotate capture a quarter turn: cw|ccw")

	mode := flag.String("mode", def.Mode.String(), "calibration: ramp|minmax")
	slope := flag.Float64("slope", def.Slope, "ramp steepness (>0)")
	focus := flag.Float64("focus", def.Focus, "disparity in focus")
	rng := flag.Float64("range", def.Range, "width of the fully opaque band")
	minFrac := flag.Float64("min", def.MinThreshold, "minmax lower threshold as a fraction of the observed range")
	maxFrac := flag.Float64("max", def.MaxThreshold, "minmax upper threshold as a fraction of the remaining range")
	clipLow := flag.Float64("clip-low", def.ClipLow, "minmax lower percentile of the observed range (0..100)")
	clipHigh := flag.Float64("clip-high", def.ClipHigh, "minmax upper percentile of the observed range (0..100)")
	feather := flag.Float64("feather", 0, "gaussian feather sigma in mask pixels")
	interp := flag.String("interp", def.Interpolation, "mask resize: nearest|approx|bilinear|bicubic")

	background := flag.String("background", "", "background image path or s3:// ref")
	bgColor := flag.String("bg-color", "#0000ff", "solid background color when no background image is given")
	quality := flag.Int("quality", 90, "JPEG quality (1..100)")
	threads := flag.Int("threads", runtime.GOMAXPROCS(0), "worker goroutines")

	s3Region := flag.String("s3-region", os.Getenv("AWS_REGION"), "S3 region")
	s3Endpoint := flag.String("s3-endpoint", "", "S3-compatible endpoint URL")
	s3PathStyle := flag.Bool("s3-path-style", false, "use path-style S3 addressing")

	flag.Parse()
	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "usage: --in <image> [--aux <depth>] [--out out.png] [--mode ramp|minmax] ...")
		os.Exit(2)
	}
	compositor.Workers = *threads
	tasks.SetLoader(source.NewLoader(source.S3Config{
		Region:       *s3Region,
		Endpoint:     *s3Endpoint,
		UsePathStyle: *s3PathStyle,
	}))

	opts := tasks.RenderOptions{Params: def, Quality: *quality}
	settings := [][2]string{
		{"view", *view}, {"aux", *auxPath}, {"rotate", *rotate},
		{"mode", *mode}, {"slope", ftoa(*slope)}, {"focus", ftoa(*focus)}, {"range", ftoa(*rng)},
		{"min", ftoa(*minFrac)}, {"max", ftoa(*maxFrac)},
		{"clip-low", ftoa(*clipLow)}, {"clip-high", ftoa(*clipHigh)},
		{"feather", ftoa(*feather)}, {"interp", *interp},
		{"background", *background}, {"bg-color", *bgColor}, {"out", *outPath},
	}
	if *kind != "" {
		settings = append(settings, [2]string{"kind", *kind})
	}
	for _, kv := range settings {
		if err := opts.Set(kv[0], kv[1]); err != nil {
			fmt.Fprintf(os.Stderr, "invalid --%s: %v\n", kv[0], err)
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	ic, err := tasks.NewCompositor(ctx, *inPath, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load capture: %v\n", err)
		os.Exit(1)
	}
	img, err := tasks.View(ic, opts.View)
	if lo, hi, ok := ic.ObservedRange(); ok {
		fmt.Printf("observed disparity range [%.4f, %.4f]\n", lo, hi)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render %s: %v\n", opts.View, err)
		os.Exit(1)
	}

	out := tasks.OutputPath(".", *inPath, opts.View, opts)
	if err := render.WriteFile(out, img, opts.Quality); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", out, err)
		os.Exit(1)
	}
	b := img.Extent()
	fmt.Printf("Wrote %s (%dx%d %s, %s calibration) in %s\n", out, b.Dx(), b.Dy(),
		strings.ToUpper(render.FormatFromPath(out)), opts.Params.Mode, time.Since(start).Round(time.Millisecond))
}

func ftoa(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
