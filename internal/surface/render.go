package surface

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// DefaultMaxRange is the range in millimetres mapped to white in previews.
const DefaultMaxRange = 4000

const depthRangeMask = 0x1FFF

// Surface is a presentation target. It reports its current size and
// composites rendered images using the supplied transform.
type Surface interface {
	Size() Size
	Present(img gocv.Mat, m Matrix) error
}

// Presenter draws images onto a Surface with the transform for its current size.
type Presenter struct {
	calc    *Calculator
	surface Surface
}

// NewPresenter creates a Presenter.
func NewPresenter(calc *Calculator, s Surface) *Presenter {
	return &Presenter{calc: calc, surface: s}
}

// Present hands img and its transform to the surface.
func (p *Presenter) Present(img gocv.Mat) error {
	size := p.surface.Size()
	return p.surface.Present(img, p.calc.Transform(size.Width, size.Height))
}

// Render warps img by m into a new Mat of the given size.
// The caller must Close the result.
func Render(img gocv.Mat, m Matrix, dest Size) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.NewMat(), errors.New("render: empty image")
	}
	if dest.Width <= 0 || dest.Height <= 0 {
		return gocv.NewMat(), fmt.Errorf("render: invalid destination %dx%d", dest.Width, dest.Height)
	}

	affine := m.Mat()
	defer affine.Close()

	out := gocv.NewMat()
	gocv.WarpAffine(img, &out, affine, image.Pt(dest.Width, dest.Height))
	return out, nil
}

// GrayFromDepth converts DEPTH16 samples into an 8-bit single-channel image,
// mapping 0..maxRange millimetres linearly onto 0..255. Confidence bits are
// ignored. The caller must Close the result.
func GrayFromDepth(samples []uint16, width, height int, maxRange uint16) (gocv.Mat, error) {
	if width <= 0 || height <= 0 || len(samples) != width*height {
		return gocv.NewMat(), fmt.Errorf("depth image: %d samples for %dx%d", len(samples), width, height)
	}
	if maxRange == 0 {
		maxRange = DefaultMaxRange
	}

	data := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[2*i:], s&depthRangeMask)
	}

	depth, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV16UC1, data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("depth image: %w", err)
	}
	defer depth.Close()

	gray := gocv.NewMat()
	depth.ConvertToWithParams(&gray, gocv.MatTypeCV8UC1, 255/float32(maxRange), 0)
	return gray, nil
}
