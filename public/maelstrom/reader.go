package maelstrom

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// inboundLine is one decoded line read from the input stream, or a
// terminal decode error for that line.
type inboundLine struct {
	env Envelope
	err error
}

// startReader launches a dedicated goroutine that blocks on in, one line at
// a time, and decodes each line into an Envelope. Decoded lines (and any
// per-line decode errors) are handed off over a small bounded channel so a
// slow consumer applies backpressure rather than letting reads race ahead
// unbounded. The channel is closed once in is exhausted or returns a
// read error.
func startReader(in io.Reader) <-chan inboundLine {
	out := make(chan inboundLine, 16)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var env Envelope
			if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
				out <- inboundLine{err: fmt.Errorf("decode line: %w", err)}
				continue
			}
			out <- inboundLine{env: env}
		}
		if err := scanner.Err(); err != nil {
			out <- inboundLine{err: fmt.Errorf("read stdin: %w", err)}
		}
	}()
	return out
}
