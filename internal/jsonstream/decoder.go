// Package jsonstream reconstructs discrete JSON objects from a line-oriented
// byte stream. The input may contain pretty-printed objects spanning many
// lines, several objects on one line, and non-JSON noise between objects; the
// decoder tracks brace nesting outside string literals to find object
// boundaries and reports every outcome, good or bad, in arrival order.
//
// A Decoder is single use: it consumes its reader exactly once, to stream end
// or consumer cancellation.
package jsonstream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Kind classifies one decode result.
type Kind int

const (
	// KindParsed is a successfully decoded object.
	KindParsed Kind = iota
	// KindParseError is a brace-balanced object the JSON parser rejected.
	KindParseError
	// KindMalformed is structurally broken input (unmatched closing brace).
	KindMalformed
	// KindIncomplete is a partial object left over when the stream ended.
	KindIncomplete
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindParsed:
		return "parsed"
	case KindParseError:
		return "parse_error"
	case KindMalformed:
		return "malformed"
	case KindIncomplete:
		return "incomplete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is one outcome of extracting a JSON object from the stream.
//
// Fields are populated by Kind: Value for KindParsed; Raw and Err for
// KindParseError and KindMalformed; Raw and Depth for KindIncomplete.
type Result[T any] struct {
	Kind  Kind
	Value T
	Raw   string
	Err   error
	Depth int
}

const (
	// DefaultBuffer is the capacity of the results channel. A consumer
	// slower than the producing stream blocks the decode loop once this
	// many results are pending.
	DefaultBuffer = 100

	// DefaultMaxLineBytes is the largest single input line accepted.
	DefaultMaxLineBytes = 1024 * 1024

	initialLineBytes = 64 * 1024
)

var errAlreadyRun = errors.New("jsonstream: decoder already run")

// Option configures a Decoder.
type Option func(*options)

type options struct {
	buffer       int
	maxLineBytes int
	logger       *zap.Logger
}

// WithBuffer sets the results channel capacity.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithMaxLineBytes sets the largest accepted input line.
func WithMaxLineBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLineBytes = n
		}
	}
}

// WithLogger sets the logger for decode diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Decoder extracts values of type T from a line-oriented JSON stream.
type Decoder[T any] struct {
	r       io.Reader
	results chan Result[T]
	opts    options
	log     *zap.Logger
	started atomic.Bool

	// scanning state
	buf      []byte
	depth    int
	inString bool
	escaped  bool
}

// New creates a Decoder reading lines from r.
func New[T any](r io.Reader, opts ...Option) *Decoder[T] {
	o := options{
		buffer:       DefaultBuffer,
		maxLineBytes: DefaultMaxLineBytes,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Decoder[T]{
		r:       r,
		results: make(chan Result[T], o.buffer),
		opts:    o,
		log:     o.logger,
	}
}

// Results returns the channel decode results are delivered on. It is closed
// when Run returns.
func (d *Decoder[T]) Results() <-chan Result[T] {
	return d.results
}

// Run consumes the input stream to its end, emitting a Result for every
// complete object, every rejected object, and any leftover partial object.
// Cancelling ctx means the consumer is gone: Run stops emitting and returns
// nil, the normal shutdown path. The only error returns are calling Run twice
// and a failed read of the underlying stream (for example a line exceeding
// the maximum length).
func (d *Decoder[T]) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return errAlreadyRun
	}
	defer close(d.results)

	scanner := bufio.NewScanner(d.r)
	initial := initialLineBytes
	if d.opts.maxLineBytes < initial {
		initial = d.opts.maxLineBytes
	}
	scanner.Buffer(make([]byte, initial), d.opts.maxLineBytes)

	for scanner.Scan() {
		if !d.scanLine(ctx, scanner.Text()) {
			return nil
		}
	}

	// Stream end: surface whatever is still buffered before reporting a
	// read error, so a killed subprocess still yields its partial output.
	if !d.flushTail(ctx) {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read json stream: %w", err)
	}
	return nil
}

// scanLine threads one line through the brace-tracking state machine.
// Returns false if the consumer is gone.
func (d *Decoder[T]) scanLine(ctx context.Context, line string) bool {
	if len(d.buf) > 0 {
		d.buf = append(d.buf, '\n')
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		pre := d.depth

		switch {
		case d.escaped:
			// Exactly one character is consumed literally after a
			// backslash inside a string.
			d.escaped = false
		case d.inString:
			switch c {
			case '\\':
				d.escaped = true
			case '"':
				d.inString = false
			}
		case c == '"':
			d.inString = true
		case c == '{':
			d.depth++
		case c == '}':
			d.depth--
		}

		// Accumulate only object content. A '{' taking depth 0 to 1
		// opens an object; characters outside any object (noise between
		// objects, stray braces) are skipped.
		if pre > 0 || (pre == 0 && d.depth == 1 && c == '{') {
			d.buf = append(d.buf, c)
		}

		// A '}' returning depth to exactly 0 completes an object.
		if c == '}' && pre == 1 && d.depth == 0 && !d.bufBlank() {
			if !d.emitObject(ctx) {
				return false
			}
		}
	}

	// An unmatched closing brace leaves depth negative at end of line.
	// Report it and resynchronize rather than staying wedged.
	if d.depth < 0 {
		res := Result[T]{
			Kind: KindMalformed,
			Raw:  string(d.buf),
			Err:  fmt.Errorf("unmatched closing brace (depth %d)", d.depth),
		}
		d.log.Debug("malformed json in stream", zap.Int("depth", d.depth))
		d.reset()
		if !d.emit(ctx, res) {
			return false
		}
	}
	return true
}

// emitObject parses the accumulated buffer as one value of type T and emits
// the outcome. The buffer is cleared either way; a rejected object never
// stops later objects from being attempted.
func (d *Decoder[T]) emitObject(ctx context.Context) bool {
	raw := string(d.buf)
	d.buf = d.buf[:0]

	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		d.log.Debug("object rejected by parser", zap.Error(err))
		return d.emit(ctx, Result[T]{Kind: KindParseError, Raw: raw, Err: err})
	}
	return d.emit(ctx, Result[T]{Kind: KindParsed, Value: v})
}

// flushTail reports a partial object left in the buffer at stream end,
// carrying the final nesting depth for diagnosing truncation.
func (d *Decoder[T]) flushTail(ctx context.Context) bool {
	if d.bufBlank() {
		return true
	}
	d.log.Debug("stream ended mid-object", zap.Int("depth", d.depth))
	return d.emit(ctx, Result[T]{
		Kind:  KindIncomplete,
		Raw:   string(d.buf),
		Depth: d.depth,
	})
}

func (d *Decoder[T]) emit(ctx context.Context, r Result[T]) bool {
	select {
	case d.results <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Decoder[T]) reset() {
	d.buf = d.buf[:0]
	d.depth = 0
	d.inString = false
	d.escaped = false
}

func (d *Decoder[T]) bufBlank() bool {
	return strings.TrimSpace(string(d.buf)) == ""
}
