// Package main provides a frame consumer that summarises each depth frame.
// It reads framed msgpack frames on stdin and answers with one result per frame.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ayusman/depthcam/internal/capture"
	"github.com/ayusman/depthcam/internal/consumer"
)

func main() {
	near := flag.Uint("near", 500, "range in millimetres below which a sample counts as near")
	flag.Parse()

	if err := run(os.Stdin, os.Stdout, uint16(*near)); err != nil {
		fmt.Fprintf(os.Stderr, "depth-stats: %v\n", err)
		os.Exit(1)
	}
}

// run answers every frame read from r until r ends.
func run(r io.Reader, w io.Writer, near uint16) error {
	in := bufio.NewReader(r)
	out := bufio.NewWriter(w)

	for {
		var frame consumer.Frame
		if err := consumer.ReadMessage(in, &frame); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		result := consumer.Result{Seq: frame.Seq, Data: summarize(frame, near)}
		if err := consumer.WriteMessage(out, result); err != nil {
			return err
		}
		if err := out.Flush(); err != nil {
			return err
		}
	}
}

// summarize reports the nearest and mean valid range, the valid ratio and
// the share of valid samples closer than near.
func summarize(frame consumer.Frame, near uint16) map[string]any {
	buf := &capture.FrameBuffer{
		Width:   frame.Width,
		Height:  frame.Height,
		Samples: consumer.DecodeDepth(frame.Depth),
	}
	if !buf.Valid() {
		return map[string]any{"error": "frame size does not match its dimensions"}
	}

	var valid, nearCount int
	var sum, confidence float64
	nearest := uint16(math.MaxUint16)
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			r := buf.Range(x, y)
			if r == 0 {
				continue
			}
			valid++
			sum += float64(r)
			confidence += buf.Confidence(x, y)
			if r < nearest {
				nearest = r
			}
			if r < near {
				nearCount++
			}
		}
	}

	data := map[string]any{
		"valid_ratio": float64(valid) / float64(buf.Width*buf.Height),
	}
	if valid > 0 {
		data["nearest_mm"] = int(nearest)
		data["mean_mm"] = sum / float64(valid)
		data["mean_confidence"] = confidence / float64(valid)
		data["near_ratio"] = float64(nearCount) / float64(valid)
	}
	return data
}
