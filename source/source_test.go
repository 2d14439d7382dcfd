package source

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrjoshuak/go-openexr/exr"

	"github.com/stevecastle/depthmask/compositor"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func colorImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	return img
}

func grayImage(w, h int, v uint16) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: v})
		}
	}
	return img
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		in      string
		want    Ref
		wantErr bool
	}{
		{"photo.jpg", Ref{Path: "photo.jpg"}, false},
		{"s3://bucket/a/b.png", Ref{Bucket: "bucket", Key: "a/b.png"}, false},
		{"s3://bucket", Ref{}, true},
		{"", Ref{}, true},
	}
	for _, tt := range tests {
		got, err := ParseRef(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRef(%q) err = %v; wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRef(%q) = %+v; want %+v", tt.in, got, tt.want)
		}
	}

	r, _ := ParseRef("s3://b/dir/IMG_1.jpg")
	if got := r.WithName("IMG_1.depth.exr").String(); got != "s3://b/dir/IMG_1.depth.exr" {
		t.Errorf("WithName = %q; want s3://b/dir/IMG_1.depth.exr", got)
	}
}

func TestInferKind(t *testing.T) {
	tests := []struct {
		name string
		want compositor.AuxiliaryKind
	}{
		{"IMG_1.depth.png", compositor.AuxDepth},
		{"IMG_1.disparity.tiff", compositor.AuxDisparity},
		{"IMG_1_depth.png", compositor.AuxDepth},
		{"map.exr", compositor.AuxDepth},
		{"map.png", compositor.AuxDisparity},
	}
	for _, tt := range tests {
		if got := InferKind(tt.name); got != tt.want {
			t.Errorf("InferKind(%q) = %v; want %v", tt.name, got, tt.want)
		}
	}
}

func TestLoadWithSidecar(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "IMG_1.png"), colorImage(8, 6))
	writePNG(t, filepath.Join(dir, "IMG_1.disparity.png"), grayImage(4, 3, 0x8000))

	c, err := NewLoader(S3Config{}).Load(context.Background(), filepath.Join(dir, "IMG_1.png"), "", Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Color.Rect != image.Rect(0, 0, 8, 6) {
		t.Errorf("color extent = %v; want 8x6", c.Color.Rect)
	}
	if c.AuxKind != compositor.AuxDisparity {
		t.Errorf("AuxKind = %v; want disparity", c.AuxKind)
	}
	if c.Auxiliary == nil || c.Auxiliary.Rect != image.Rect(0, 0, 4, 3) {
		t.Fatalf("auxiliary = %v; want 4x3 map", c.Auxiliary)
	}
	if v := c.Auxiliary.Gray(1, 1); v < 0.49 || v > 0.51 {
		t.Errorf("auxiliary sample = %v; want ~0.5", v)
	}
}

func TestLoadWithoutSidecar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.png")
	writePNG(t, path, colorImage(2, 2))

	l := NewLoader(S3Config{})
	c, err := l.Load(context.Background(), path, "", Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Auxiliary != nil || c.AuxKind != compositor.AuxNone {
		t.Errorf("auxiliary = %v, %v; want none", c.Auxiliary, c.AuxKind)
	}
	if _, err := compositor.New(*c).ComposedImage(); !errors.Is(err, compositor.ErrMissingAuxiliaryData) {
		t.Errorf("ComposedImage err = %v; want ErrMissingAuxiliaryData", err)
	}

	_, err = l.Load(context.Background(), path, filepath.Join(dir, "missing.depth.png"), Options{})
	if !errors.Is(err, compositor.ErrMissingAuxiliaryData) {
		t.Errorf("explicit missing aux err = %v; want ErrMissingAuxiliaryData", err)
	}
}

func TestLoadRotated(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "r.png"), colorImage(8, 6))
	writePNG(t, filepath.Join(dir, "r.depth.png"), grayImage(4, 3, 0xffff))

	c, err := NewLoader(S3Config{}).Load(context.Background(), filepath.Join(dir, "r.png"), "", Options{Rotate: "cw"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Color.Rect != image.Rect(0, 0, 6, 8) {
		t.Errorf("rotated color = %v; want 6x8 at origin", c.Color.Rect)
	}
	if c.Auxiliary.Rect != image.Rect(0, 0, 3, 4) {
		t.Errorf("rotated aux = %v; want 3x4 at origin", c.Auxiliary.Rect)
	}
	if c.AuxKind != compositor.AuxDepth {
		t.Errorf("AuxKind = %v; want depth", c.AuxKind)
	}
}

func TestDecodeEXR(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.exr")
	img := exr.NewRGBAImage(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			img.SetRGBA(x, y, 0.5, 0, 0, 1)
		}
	}
	if err := exr.EncodeFile(path, img); err != nil {
		t.Fatalf("EncodeFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	aux, err := DecodeAuxiliary(data, ".exr")
	if err != nil {
		t.Fatalf("DecodeAuxiliary: %v", err)
	}
	if aux.Rect.Dx() != 3 || aux.Rect.Dy() != 2 {
		t.Fatalf("extent = %v; want 3x2", aux.Rect)
	}
	if v := aux.Gray(2, 1); v != 0.5 {
		t.Errorf("sample = %v; want 0.5", v)
	}
}
