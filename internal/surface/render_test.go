package surface

import (
	"testing"

	"gocv.io/x/gocv"
)

type recordingSurface struct {
	size     Size
	matrices []Matrix
}

func (s *recordingSurface) Size() Size { return s.size }

func (s *recordingSurface) Present(img gocv.Mat, m Matrix) error {
	s.matrices = append(s.matrices, m)
	return nil
}

func TestGrayFromDepth(t *testing.T) {
	samples := []uint16{0, 2000, 4000, (7 << 13) | 4000}
	gray, err := GrayFromDepth(samples, 2, 2, 4000)
	if err != nil {
		t.Fatalf("GrayFromDepth() error = %v", err)
	}
	defer gray.Close()

	if gray.Type() != gocv.MatTypeCV8UC1 {
		t.Errorf("Type() = %v, want CV8UC1", gray.Type())
	}
	want := [][]int{{0, 128}, {255, 255}}
	for row := range want {
		for col, w := range want[row] {
			got := int(gray.GetUCharAt(row, col))
			if got < w-1 || got > w {
				t.Errorf("pixel (%d,%d) = %d, want %d", row, col, got, w)
			}
		}
	}

	if _, err := GrayFromDepth(samples, 3, 2, 4000); err == nil {
		t.Error("GrayFromDepth() accepted mismatched dimensions")
	}
}

func TestRender(t *testing.T) {
	src := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC1)
	defer src.Close()

	dest := Size{Width: 320, Height: 320}
	m := NewCalculator(640, 480).Transform(dest.Width, dest.Height)
	out, err := Render(src, m, dest)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	defer out.Close()

	if out.Cols() != 320 || out.Rows() != 320 {
		t.Errorf("Render() size = %dx%d, want 320x320", out.Cols(), out.Rows())
	}

	empty := gocv.NewMat()
	defer empty.Close()
	if _, err := Render(empty, m, dest); err == nil {
		t.Error("Render() accepted an empty image")
	}
}

func TestPresenter(t *testing.T) {
	s := &recordingSurface{size: Size{Width: 800, Height: 600}}
	calc := NewCalculator(640, 480)
	p := NewPresenter(calc, s)

	img := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC1)
	defer img.Close()

	for i := 0; i < 3; i++ {
		p.Present(img)
	}
	s.size = Size{Width: 400, Height: 300}
	p.Present(img)

	if len(s.matrices) != 4 {
		t.Fatalf("presented %d times, want 4", len(s.matrices))
	}
	if got := calc.Computations(); got != 2 {
		t.Errorf("Computations() = %d, want 2", got)
	}
	if !near(s.matrices[3].Scale(), 0.625) {
		t.Errorf("Scale() after resize = %v, want 0.625", s.matrices[3].Scale())
	}
}
