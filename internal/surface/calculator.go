package surface

import "sync"

// SensorRotation corrects for the mounting orientation of the depth sensor.
const SensorRotation = 270

// Size is a surface size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Calculator computes the transform that fits a fixed-size source buffer,
// centred, into a destination surface and rotates it about the surface
// centre. The result is memoized on the destination size.
type Calculator struct {
	src      Size
	rotation float64

	mu           sync.Mutex
	cached       bool
	key          Size
	value        Matrix
	computations int
}

// NewCalculator creates a Calculator for srcWidth x srcHeight buffers
// rotated by SensorRotation.
func NewCalculator(srcWidth, srcHeight int) *Calculator {
	return NewCalculatorWithRotation(srcWidth, srcHeight, SensorRotation)
}

// NewCalculatorWithRotation creates a Calculator with a custom rotation in degrees.
func NewCalculatorWithRotation(srcWidth, srcHeight int, rotation float64) *Calculator {
	return &Calculator{
		src:      Size{Width: srcWidth, Height: srcHeight},
		rotation: rotation,
	}
}

// Source returns the source buffer size.
func (c *Calculator) Source() Size {
	return c.src
}

// Transform returns the matrix for a destWidth x destHeight surface.
// A surface without area gets the identity and is not cached.
func (c *Calculator) Transform(destWidth, destHeight int) Matrix {
	if destWidth <= 0 || destHeight <= 0 {
		return Identity()
	}

	key := Size{Width: destWidth, Height: destHeight}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached && c.key == key {
		return c.value
	}

	m := FitCenter(RectOf(c.src.Width, c.src.Height), RectOf(destWidth, destHeight)).
		PostRotate(c.rotation, float64(destWidth)/2, float64(destHeight)/2)

	c.key = key
	c.value = m
	c.cached = true
	c.computations++
	return m
}

// Computations returns how many times the transform has been recomputed.
func (c *Calculator) Computations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.computations
}
