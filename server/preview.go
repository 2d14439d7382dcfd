package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stevecastle/depthmask/appconfig"
	"github.com/stevecastle/depthmask/compositor"
	"github.com/stevecastle/depthmask/render"
	"github.com/stevecastle/depthmask/tasks"
)

// previewOptions builds render options from query parameters layered over
// the configured defaults.
func previewOptions(r *http.Request) (input, format string, opts tasks.RenderOptions, err error) {
	cfg := appconfig.Get()
	opts, err = tasks.DefaultRenderOptions(cfg.Compositor)
	if err != nil {
		return "", "", opts, err
	}
	format = render.FormatPNG
	for key, vals := range r.URL.Query() {
		if len(vals) == 0 {
			continue
		}
		val := vals[len(vals)-1]
		switch key = strings.ToLower(key); key {
		case "input", "color":
			input = val
		case "format":
			format = strings.ToLower(val)
			if format == "jpg" {
				format = render.FormatJPEG
			}
		case "out", "output":
			return "", "", opts, fmt.Errorf("%w: previews are not written to disk", compositor.ErrInvalidParameter)
		default:
			if err := opts.Set(key, val); err != nil {
				return "", "", opts, err
			}
		}
	}
	if input == "" {
		return "", "", opts, fmt.Errorf("%w: input is required", compositor.ErrInvalidParameter)
	}
	return input, format, opts, nil
}

// previewHandler renders one view of a capture synchronously.
func previewHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, format, opts, err := previewOptions(r)
		if err != nil {
			writeError(w, err)
			return
		}

		start := time.Now()
		ic, err := tasks.NewCompositor(r.Context(), input, opts)
		if err != nil {
			writeError(w, err)
			return
		}
		img, err := tasks.View(ic, opts.View)
		if lo, hi, ok := ic.ObservedRange(); ok {
			w.Header().Set("X-Observed-Min", strconv.FormatFloat(lo, 'g', -1, 64))
			w.Header().Set("X-Observed-Max", strconv.FormatFloat(hi, 'g', -1, 64))
		}
		if err != nil {
			writeError(w, err)
			return
		}
		data, err := render.Bytes(img, format, opts.Quality)
		if err != nil {
			writeError(w, err)
			return
		}
		renderDuration.WithLabelValues(opts.View, opts.Params.Mode.String()).Observe(time.Since(start).Seconds())

		w.Header().Set("Content-Type", render.ContentType(format))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Cache-Control", "no-store")
		w.Write(data)
	}
}
