// Package testkit drives a node's runtime against a YAML-described
// scenario: a sequence of harness-injected input lines and the sequence
// of output body types expected in reply, the way the teacher module
// loads its cell and pool configuration from YAML.
package testkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tenzoki/maelgox/public/maelstrom"
)

// Scenario is one end-to-end test case: a node is driven with Input lines
// in order, and the body "type" of each emitted output line must match
// the corresponding entry in ExpectTypes.
type Scenario struct {
	Name          string   `yaml:"name"`
	TickPeriodMS  int      `yaml:"tick_period_ms"`
	Input         []string `yaml:"input"`
	ExpectTypes   []string `yaml:"expect_types"`
	WaitTimeoutMS int      `yaml:"wait_timeout_ms"`
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("testkit: read scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("testkit: parse scenario %s: %w", path, err)
	}
	return &s, nil
}

// outputCollector is a safe sink for the runtime's writer goroutine,
// polled by Run while the scenario plays out.
type outputCollector struct {
	mu    sync.Mutex
	lines []string
	buf   bytes.Buffer
}

func (c *outputCollector) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.buf.Write(p)
	for {
		line, err := c.buf.ReadString('\n')
		if err != nil {
			c.buf.WriteString(line)
			break
		}
		c.lines = append(c.lines, strings.TrimRight(line, "\n"))
	}
	return n, err
}

func (c *outputCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func (c *outputCollector) line(i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines[i]
}

// Result is what Run reports back: the decoded output envelopes and any
// error the runtime exited with (nil on a clean exit).
type Result struct {
	Outputs []maelstrom.Envelope
	RunErr  error
}

// Run feeds s.Input into a node running factory's application and waits
// for len(s.ExpectTypes) output lines (or WaitTimeoutMS, default 2s).
// Run does not compare the number of outputs with s.ExpectTypes: its
// returned error covers only input, decode and pipe failures. Callers
// assert on Outputs (AssertTypes reports a shortfall or a type mismatch)
// so failures report through the calling test, not testkit.
func Run(factory func(*maelstrom.Node) maelstrom.AppRunner, s *Scenario) (*Result, error) {
	inR, inW := io.Pipe()
	out := &outputCollector{}

	tickPeriod := time.Duration(s.TickPeriodMS) * time.Millisecond
	if tickPeriod <= 0 {
		tickPeriod = 10 * time.Millisecond
	}

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- maelstrom.RunWithOptions(context.Background(), inR, out, factory, maelstrom.Options{TickPeriod: tickPeriod})
	}()

	for _, line := range s.Input {
		if _, err := inW.Write([]byte(line + "\n")); err != nil {
			inW.Close()
			return nil, fmt.Errorf("testkit: write input line: %w", err)
		}
	}

	timeout := time.Duration(s.WaitTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	deadline := time.Now().Add(timeout)
	for out.count() < len(s.ExpectTypes) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	inW.Close()

	outputs := make([]maelstrom.Envelope, out.count())
	for i := range outputs {
		if err := json.Unmarshal([]byte(out.line(i)), &outputs[i]); err != nil {
			return nil, fmt.Errorf("testkit: decode output line %d: %w", i, err)
		}
	}

	var runErr error
	select {
	case runErr = <-runErrCh:
	case <-time.After(time.Second):
		runErr = fmt.Errorf("testkit: node did not exit after input closed")
	}

	return &Result{Outputs: outputs, RunErr: runErr}, nil
}

// AssertTypes checks that each output's body type matches want in order,
// returning a descriptive error on the first mismatch or a length gap.
func AssertTypes(outputs []maelstrom.Envelope, want []string) error {
	if len(outputs) < len(want) {
		return fmt.Errorf("testkit: got %d outputs, want at least %d", len(outputs), len(want))
	}
	for i, wantType := range want {
		got, err := outputs[i].Type()
		if err != nil {
			return fmt.Errorf("testkit: output %d: %w", i, err)
		}
		if got != wantType {
			return fmt.Errorf("testkit: output %d type = %q, want %q", i, got, wantType)
		}
	}
	return nil
}
