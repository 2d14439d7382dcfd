package compositor

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
)

func solid(r image.Rectangle, c [4]float32) *Image {
	img := NewRGBA(r)
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:i+4], c[:])
	}
	return img
}

func TestToDisparity(t *testing.T) {
	depth := NewGray(image.Rect(0, 0, 4, 1))
	copy(depth.Pix, []float32{2, 0.5, 0, -1})
	disp, err := ToDisparity(depth, AuxDepth)
	if err != nil {
		t.Fatalf("ToDisparity: %v", err)
	}
	want := []float32{0.5, 2, 0, 0}
	for i, w := range want {
		if disp.Pix[i] != w {
			t.Errorf("disparity[%d] = %v; want %v", i, disp.Pix[i], w)
		}
	}
	if depth.Pix[0] != 2 {
		t.Errorf("input modified: depth[0] = %v; want 2", depth.Pix[0])
	}

	same, err := ToDisparity(depth, AuxDisparity)
	if err != nil || same != depth {
		t.Errorf("disparity passthrough = (%p, %v); want (%p, nil)", same, err, depth)
	}
	if _, err := ToDisparity(nil, AuxDepth); !errors.Is(err, ErrMissingAuxiliaryData) {
		t.Errorf("nil aux: err = %v; want ErrMissingAuxiliaryData", err)
	}
	if _, err := ToDisparity(depth, AuxNone); !errors.Is(err, ErrMissingAuxiliaryData) {
		t.Errorf("AuxNone: err = %v; want ErrMissingAuxiliaryData", err)
	}
}

func TestCompositeMaskExtremes(t *testing.T) {
	r := image.Rect(0, 0, 3, 2)
	fg := solid(r, [4]float32{0.9, 0.1, 0.3, 1})
	bg := solid(r, [4]float32{0.2, 0.4, 0.6, 0.5})

	out, err := Composite(fg, bg, constant(r, 1))
	if err != nil {
		t.Fatalf("Composite(mask=1): %v", err)
	}
	for i := range out.Pix {
		if out.Pix[i] != fg.Pix[i] {
			t.Fatalf("mask=1: out[%d] = %v; want %v", i, out.Pix[i], fg.Pix[i])
		}
	}

	out, err = Composite(fg, bg, constant(r, 0))
	if err != nil {
		t.Fatalf("Composite(mask=0): %v", err)
	}
	for i := range out.Pix {
		if out.Pix[i] != bg.Pix[i] {
			t.Fatalf("mask=0: out[%d] = %v; want %v", i, out.Pix[i], bg.Pix[i])
		}
	}

	out, err = Composite(fg, bg, constant(r, 0.5))
	if err != nil {
		t.Fatalf("Composite(mask=0.5): %v", err)
	}
	if r0, _, _, a := out.RGBA(1, 1); !approx(float64(r0), 0.55, 1e-6) || !approx(float64(a), 0.75, 1e-6) {
		t.Errorf("mask=0.5: (r, a) = (%v, %v); want (0.55, 0.75)", r0, a)
	}
}

func TestCompositeExtentMismatch(t *testing.T) {
	r := image.Rect(0, 0, 4, 4)
	fg := solid(r, [4]float32{1, 0, 0, 1})
	bg := solid(image.Rect(0, 0, 4, 5), [4]float32{0, 0, 1, 1})
	if _, err := Composite(fg, bg, constant(r, 1)); !errors.Is(err, ErrExtentMismatch) {
		t.Errorf("background mismatch: err = %v; want ErrExtentMismatch", err)
	}
	bg = solid(r, [4]float32{0, 0, 1, 1})
	if _, err := Composite(fg, bg, constant(image.Rect(1, 0, 5, 4), 1)); !errors.Is(err, ErrExtentMismatch) {
		t.Errorf("mask mismatch: err = %v; want ErrExtentMismatch", err)
	}
	if _, err := Composite(fg, bg, nil); !errors.Is(err, ErrMissingAuxiliaryData) {
		t.Errorf("nil mask: err = %v; want ErrMissingAuxiliaryData", err)
	}
}

func TestResizeToExtent(t *testing.T) {
	mask := constant(image.Rect(0, 0, 160, 120), 1)
	target := image.Rect(0, 0, 4032, 3024)
	out, err := ResizeToExtent(mask, target, Scaler("bilinear"))
	if err != nil {
		t.Fatalf("ResizeToExtent: %v", err)
	}
	if out.Rect != target {
		t.Fatalf("extent = %v; want %v", out.Rect, target)
	}
	for _, p := range []image.Point{{0, 0}, {4031, 3023}, {2000, 1500}} {
		if v := out.Gray(p.X, p.Y); !approx(float64(v), 1, 1e-3) {
			t.Errorf("mask at %v = %v; want 1", p, v)
		}
	}

	offset := image.Rect(10, 20, 50, 40)
	same, err := ResizeToExtent(constant(image.Rect(0, 0, 40, 20), 0.25), offset, nil)
	if err != nil {
		t.Fatalf("ResizeToExtent(same size): %v", err)
	}
	if same.Rect != offset || same.Gray(10, 20) != 0.25 {
		t.Errorf("same size resize = %v, %v; want %v, 0.25", same.Rect, same.Gray(10, 20), offset)
	}

	if _, err := ResizeToExtent(mask, image.Rectangle{}, nil); !errors.Is(err, ErrExtentMismatch) {
		t.Errorf("empty target: err = %v; want ErrExtentMismatch", err)
	}
}

func TestScaleToCoverAndAlign(t *testing.T) {
	bg := image.NewNRGBA(image.Rect(0, 0, 50, 100))
	for i := 0; i < len(bg.Pix); i += 4 {
		bg.Pix[i+1], bg.Pix[i+3] = 255, 255
	}
	target := image.Rect(0, 0, 200, 100)
	covered, err := ScaleToCover(bg, target)
	if err != nil {
		t.Fatalf("ScaleToCover: %v", err)
	}
	if covered.Rect.Dx() != 200 || covered.Rect.Dy() != 400 {
		t.Errorf("covered size = %v; want 200x400", covered.Rect.Size())
	}
	if !target.In(covered.Rect) {
		t.Fatalf("covered extent %v does not contain %v", covered.Rect, target)
	}
	if covered.Rect.Min != image.Pt(0, -150) {
		t.Errorf("covered origin = %v; want (0,-150)", covered.Rect.Min)
	}

	aligned, err := AlignTo(covered, target)
	if err != nil {
		t.Fatalf("AlignTo: %v", err)
	}
	if aligned.Rect != target {
		t.Errorf("aligned extent = %v; want %v", aligned.Rect, target)
	}
	if _, g, _, a := aligned.RGBA(100, 50); !approx(float64(g), 1, 1e-3) || !approx(float64(a), 1, 1e-3) {
		t.Errorf("aligned center (g, a) = (%v, %v); want (1, 1)", g, a)
	}

	if _, err := AlignTo(aligned, image.Rect(0, 0, 201, 100)); !errors.Is(err, ErrExtentMismatch) {
		t.Errorf("uncovered target: err = %v; want ErrExtentMismatch", err)
	}
}

func TestRotate90(t *testing.T) {
	img := NewGray(image.Rect(0, 0, 3, 2))
	for i := range img.Pix {
		img.Pix[i] = float32(i)
	}

	cw := Rotate90(img, true)
	if cw.Rect.Dx() != 2 || cw.Rect.Dy() != 3 {
		t.Fatalf("clockwise size = %v; want 2x3", cw.Rect.Size())
	}
	n := cw.Normalize()
	// top-left moves to top-right
	if got := n.Gray(1, 0); got != 0 {
		t.Errorf("clockwise top-right = %v; want 0", got)
	}
	// bottom-left moves to top-left
	if got := n.Gray(0, 0); got != 3 {
		t.Errorf("clockwise top-left = %v; want 3", got)
	}

	back := Rotate90(cw, false)
	if back.Rect != img.Rect {
		t.Fatalf("round trip extent = %v; want %v", back.Rect, img.Rect)
	}
	for i := range img.Pix {
		if back.Pix[i] != img.Pix[i] {
			t.Errorf("round trip [%d] = %v; want %v", i, back.Pix[i], img.Pix[i])
		}
	}

	full := img
	for i := 0; i < 4; i++ {
		full = Rotate90(full, true)
	}
	if full.Rect != img.Rect {
		t.Errorf("four turns extent = %v; want %v", full.Rect, img.Rect)
	}
}

func TestAspectHelpers(t *testing.T) {
	s := Size{4, 3}
	target := Size{2, 2}
	if got := ScaleForAspectFit(s, target); !approx(got, 0.5, 1e-12) {
		t.Errorf("ScaleForAspectFit = %v; want 0.5", got)
	}
	if got := ScaleForAspectFill(s, target); !approx(got, 2.0/3, 1e-12) {
		t.Errorf("ScaleForAspectFill = %v; want 0.667", got)
	}
	if got := SizeForAspectFit(s, target); got != (Size{2, 1.5}) {
		t.Errorf("SizeForAspectFit = %v; want {2 1.5}", got)
	}
	if got := SizeForAspectFill(s, target); !approx(got.H, 2, 1e-12) || !approx(got.W, 8.0/3, 1e-12) {
		t.Errorf("SizeForAspectFill = %v; want {2.667 2}", got)
	}
}

func TestFeather(t *testing.T) {
	mask := NewGray(image.Rect(0, 0, 20, 1))
	for x := 10; x < 20; x++ {
		mask.Pix[x] = 1
	}
	if Feather(mask, 0) != mask {
		t.Error("Feather(0) should return the mask unchanged")
	}
	soft := Feather(mask, 2)
	if soft.Rect != mask.Rect {
		t.Fatalf("feathered extent = %v; want %v", soft.Rect, mask.Rect)
	}
	if v := soft.Pix[9]; v <= 0 || v >= 1 {
		t.Errorf("feathered edge = %v; want strictly between 0 and 1", v)
	}
}

func newRedCapture() Capture {
	return Capture{
		Color:     solid(image.Rect(0, 0, 100, 100), [4]float32{1, 0, 0, 1}),
		Auxiliary: constant(image.Rect(0, 0, 10, 10), 0.5),
		AuxKind:   AuxDisparity,
	}
}

func TestComposedInFocus(t *testing.T) {
	ic := New(newRedCapture())
	ic.Params.Focus = 0.5
	ic.Params.Slope = 10

	mask, err := ic.AlphaMaskImage(false)
	if err != nil {
		t.Fatalf("AlphaMaskImage: %v", err)
	}
	if mask.Rect != image.Rect(0, 0, 100, 100) {
		t.Fatalf("mask extent = %v; want 100x100", mask.Rect)
	}
	for i, v := range mask.Pix {
		if !approx(float64(v), 1, 1e-3) {
			t.Fatalf("mask[%d] = %v; want 1", i, v)
		}
	}

	out, err := ic.ComposedImage()
	if err != nil {
		t.Fatalf("ComposedImage: %v", err)
	}
	r, g, b, a := out.RGBA(50, 50)
	if !approx(float64(r), 1, 1e-3) || g > 1e-3 || !approx(float64(b), 0, 1e-3) || !approx(float64(a), 1, 1e-3) {
		t.Errorf("composed = (%v, %v, %v, %v); want red", r, g, b, a)
	}
}

func TestComposedOutOfFocus(t *testing.T) {
	ic := New(newRedCapture())
	ic.Params.Focus = 0
	ic.Params.Slope = 10

	out, err := ic.ComposedImage()
	if err != nil {
		t.Fatalf("ComposedImage: %v", err)
	}
	for _, p := range []image.Point{{0, 0}, {99, 99}} {
		r, g, b, a := out.RGBA(p.X, p.Y)
		if r != 0 || g != 0 || b != 1 || a != 1 {
			t.Errorf("composed at %v = (%v, %v, %v, %v); want blue", p, r, g, b, a)
		}
	}
}

func TestCompositorMissingDepth(t *testing.T) {
	c := newRedCapture()
	c.Auxiliary, c.AuxKind = nil, AuxNone
	ic := New(c)

	if col, err := ic.ColorImage(); err != nil || col == nil {
		t.Errorf("ColorImage = (%v, %v); want image", col, err)
	}
	if _, err := ic.DepthImage(); !errors.Is(err, ErrMissingAuxiliaryData) {
		t.Errorf("DepthImage err = %v; want ErrMissingAuxiliaryData", err)
	}
	if m, err := ic.AlphaMaskImage(true); m != nil || !errors.Is(err, ErrMissingAuxiliaryData) {
		t.Errorf("AlphaMaskImage = (%v, %v); want (nil, ErrMissingAuxiliaryData)", m, err)
	}
	if out, err := ic.ComposedImage(); out != nil || !errors.Is(err, ErrMissingAuxiliaryData) {
		t.Errorf("ComposedImage = (%v, %v); want (nil, ErrMissingAuxiliaryData)", out, err)
	}
}

func TestCompositorGrayscaledMask(t *testing.T) {
	ic := New(newRedCapture())
	m, err := ic.AlphaMaskImage(true)
	if err != nil {
		t.Fatalf("AlphaMaskImage: %v", err)
	}
	if m.Channels != 4 {
		t.Fatalf("channels = %d; want 4", m.Channels)
	}
	r, g, b, a := m.RGBA(3, 3)
	if r != g || g != b || a != 1 {
		t.Errorf("grayscaled pixel = (%v, %v, %v, %v); want gray and opaque", r, g, b, a)
	}
}

func TestCompositorMinMaxDegenerate(t *testing.T) {
	ic := New(newRedCapture())
	ic.Params.Mode = ModeMinMax
	if _, err := ic.ComposedImage(); !errors.Is(err, ErrDegenerateCalibration) {
		t.Errorf("ComposedImage err = %v; want ErrDegenerateCalibration", err)
	}
	lo, hi, ok := ic.ObservedRange()
	if !ok || lo != 0.5 || hi != 0.5 {
		t.Errorf("ObservedRange = (%v, %v, %v); want (0.5, 0.5, true)", lo, hi, ok)
	}
}

func TestCompositorImageBackground(t *testing.T) {
	ic := New(newRedCapture())
	ic.Params.Focus = 0
	bg := image.NewUniform(color.NRGBA{G: 255, A: 255})
	ic.Background = image.NewNRGBA(image.Rect(0, 0, 30, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 30; x++ {
			ic.Background.(*image.NRGBA).Set(x, y, bg.C)
		}
	}
	out, err := ic.ComposedImage()
	if err != nil {
		t.Fatalf("ComposedImage: %v", err)
	}
	if out.Rect != image.Rect(0, 0, 100, 100) {
		t.Fatalf("extent = %v; want 100x100", out.Rect)
	}
	if _, g, _, _ := out.RGBA(50, 50); math.Abs(float64(g)-1) > 1e-3 {
		t.Errorf("green = %v; want 1", g)
	}
}
