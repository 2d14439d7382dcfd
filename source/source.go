// Package source loads a color photo and its depth or disparity map from
// local files or S3 and hands them to the compositor as a Capture.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"path"
	"path/filepath"
	"strings"

	"github.com/mrjoshuak/go-openexr/exr"
	"github.com/mrjoshuak/go-openexr/exrutil"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/stevecastle/depthmask/compositor"
)

var (
	// ErrNotFound is returned when a referenced object does not exist.
	ErrNotFound = errors.New("source: not found")
	// ErrBadRef is returned for references that are neither a path nor
	// s3://bucket/key.
	ErrBadRef = errors.New("source: bad reference")
)

// exrChannels are tried in order when reading a float map.
var exrChannels = []string{"Z", "depth.Z", "Y", "R"}

var sidecarExts = []string{".png", ".tif", ".tiff", ".exr"}

// Options control how a capture is assembled.
type Options struct {
	// AuxKind overrides the kind inferred from the auxiliary file name.
	AuxKind compositor.AuxiliaryKind
	// Rotate turns both images a quarter turn: "cw", "ccw" or "".
	Rotate string
}

// Loader reads images from the local filesystem and S3.
type Loader struct {
	store *objectStore
}

// NewLoader returns a loader. S3 is only contacted for s3:// refs.
func NewLoader(cfg S3Config) *Loader {
	return &Loader{store: newObjectStore(cfg)}
}

// Load reads the color image at colorRef and the auxiliary map at auxRef.
// An empty auxRef looks for a "<name>.disparity.<ext>" or
// "<name>.depth.<ext>" sidecar; when none exists the capture has no
// auxiliary map and downstream stages report it as missing.
func (l *Loader) Load(ctx context.Context, colorRef, auxRef string, opts Options) (*compositor.Capture, error) {
	cref, err := ParseRef(colorRef)
	if err != nil {
		return nil, err
	}
	data, err := l.store.read(ctx, cref)
	if err != nil {
		return nil, fmt.Errorf("read color %s: %w", cref, err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode color %s: %w", cref, err)
	}
	capture := &compositor.Capture{Color: compositor.FromImage(img).Normalize()}

	var aref Ref
	var adata []byte
	if auxRef != "" {
		aref, err = ParseRef(auxRef)
		if err != nil {
			return nil, err
		}
		adata, err = l.store.read(ctx, aref)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", compositor.ErrMissingAuxiliaryData, aref)
		}
		if err != nil {
			return nil, fmt.Errorf("read auxiliary %s: %w", aref, err)
		}
	} else {
		aref, adata, err = l.findSidecar(ctx, cref)
		if err != nil {
			return nil, err
		}
	}

	if adata != nil {
		aux, err := DecodeAuxiliary(adata, aref.Ext())
		if err != nil {
			return nil, fmt.Errorf("decode auxiliary %s: %w", aref, err)
		}
		capture.Auxiliary = aux.Normalize()
		capture.AuxKind = opts.AuxKind
		if capture.AuxKind == compositor.AuxNone {
			capture.AuxKind = InferKind(aref.Name())
		}
	} else {
		log.Printf("source: no depth sidecar for %s", cref)
	}

	switch strings.ToLower(opts.Rotate) {
	case "":
	case "cw":
		rotate(capture, true)
	case "ccw":
		rotate(capture, false)
	default:
		return nil, fmt.Errorf("%w: rotate %q", compositor.ErrInvalidParameter, opts.Rotate)
	}
	return capture, nil
}

// LoadImage reads and decodes a single image, such as a background.
func (l *Loader) LoadImage(ctx context.Context, ref string) (image.Image, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := l.store.read(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r, err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", r, err)
	}
	return img, nil
}

func (l *Loader) findSidecar(ctx context.Context, color Ref) (Ref, []byte, error) {
	for _, kind := range []string{"disparity", "depth"} {
		for _, ext := range sidecarExts {
			cand := color.WithName(strings.TrimSuffix(color.Name(), filepath.Ext(color.Name())) + "." + kind + ext)
			data, err := l.store.read(ctx, cand)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return Ref{}, nil, fmt.Errorf("read sidecar %s: %w", cand, err)
			}
			return cand, data, nil
		}
	}
	return Ref{}, nil, nil
}

func rotate(c *compositor.Capture, clockwise bool) {
	c.Color = compositor.Rotate90(c.Color, clockwise).Normalize()
	if c.Auxiliary != nil {
		c.Auxiliary = compositor.Rotate90(c.Auxiliary, clockwise).Normalize()
	}
}

// InferKind reads "depth" or "disparity" from a file name such as
// "IMG_0001.depth.exr". EXR maps default to depth, anything else to
// disparity.
func InferKind(name string) compositor.AuxiliaryKind {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, ".disparity."), strings.Contains(lower, "_disparity."):
		return compositor.AuxDisparity
	case strings.Contains(lower, ".depth."), strings.Contains(lower, "_depth."):
		return compositor.AuxDepth
	case strings.HasSuffix(lower, ".exr"):
		return compositor.AuxDepth
	}
	return compositor.AuxDisparity
}

// DecodeAuxiliary decodes a single-channel map. EXR samples are kept as
// stored; integer images are normalized to [0,1].
func DecodeAuxiliary(data []byte, ext string) (*compositor.Image, error) {
	if strings.EqualFold(ext, ".exr") {
		return decodeEXR(data)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return compositor.GrayFromImage(img), nil
}

func decodeEXR(data []byte) (*compositor.Image, error) {
	f, err := exr.OpenReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open exr: %w", err)
	}
	h := f.Header(0)
	w, ht := h.Width(), h.Height()
	for _, name := range exrChannels {
		samples, err := exrutil.ExtractChannel(f, name)
		if err != nil {
			continue
		}
		return compositor.GrayFromFloats(w, ht, samples), nil
	}
	return nil, fmt.Errorf("exr has none of channels %v", exrChannels)
}

// Ref names an image on the local filesystem or in an S3 bucket.
type Ref struct {
	Bucket string
	Key    string
	Path   string
}

// ParseRef accepts a local path or s3://bucket/key.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("%w: empty", ErrBadRef)
	}
	if rest, ok := strings.CutPrefix(s, "s3://"); ok {
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return Ref{}, fmt.Errorf("%w: %q", ErrBadRef, s)
		}
		return Ref{Bucket: bucket, Key: key}, nil
	}
	return Ref{Path: s}, nil
}

// IsS3 reports whether the ref points into a bucket.
func (r Ref) IsS3() bool { return r.Bucket != "" }

// Name is the base name of the object.
func (r Ref) Name() string {
	if r.IsS3() {
		return path.Base(r.Key)
	}
	return filepath.Base(r.Path)
}

// Ext is the lower-cased extension including the dot.
func (r Ref) Ext() string {
	return strings.ToLower(filepath.Ext(r.Name()))
}

// WithName returns a ref to a sibling object.
func (r Ref) WithName(name string) Ref {
	if r.IsS3() {
		return Ref{Bucket: r.Bucket, Key: path.Join(path.Dir(r.Key), name)}
	}
	return Ref{Path: filepath.Join(filepath.Dir(r.Path), name)}
}

func (r Ref) String() string {
	if r.IsS3() {
		return "s3://" + r.Bucket + "/" + r.Key
	}
	return r.Path
}
