// Package consumer discovers and runs external frame consumers. A consumer is
// an executable that reads length-prefixed msgpack depth frames on stdin and
// may answer with length-prefixed msgpack results on stdout.
package consumer

import "time"

// Manifest describes a consumer's metadata, read from consumer.json.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Args        []string `json:"args,omitempty"`
	// Every delivers one frame in Every; zero or one delivers all frames.
	Every int `json:"every,omitempty"`
}

// Consumer is a discovered consumer with its manifest and location.
type Consumer struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Frame is the message written to a consumer for each delivered frame.
// Depth holds little-endian DEPTH16 samples, row-major.
type Frame struct {
	SessionID string    `msgpack:"session_id"`
	Seq       uint64    `msgpack:"seq"`
	Timestamp time.Time `msgpack:"timestamp"`
	Width     int       `msgpack:"width"`
	Height    int       `msgpack:"height"`
	Depth     []byte    `msgpack:"depth"`
}

// Result is a message read back from a consumer.
type Result struct {
	Seq  uint64         `msgpack:"seq"`
	Data map[string]any `msgpack:"data"`
}
