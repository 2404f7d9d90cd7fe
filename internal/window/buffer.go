// Package window implements the sliding audio buffer that turns an unbounded
// PCM16 byte stream into fixed-size overlapping windows.
//
// A [Buffer] retains the most recent window_seconds of audio and fires a
// trigger every time stride_ms worth of new bytes has arrived since the last
// trigger. The window length and the stride are independent: a 2 s window with
// a 320 ms stride yields heavily overlapping windows, which is what allows the
// retrieval layer to react mid-utterance.
package window

import "fmt"

// bytesPerSample is the size of one PCM16 mono sample.
const bytesPerSample = 2

// Config holds the fixed construction-time parameters of a [Buffer].
type Config struct {
	// WindowSeconds is the duration of audio retained in the buffer.
	WindowSeconds float64

	// SampleRate is the PCM sample rate in Hz (e.g. 16000).
	SampleRate int

	// StrideMS is how much new audio, in milliseconds, must arrive before
	// another window is emitted.
	StrideMS int
}

// Buffer maintains a bounded, continuously-shifting view of the most recent
// audio and decides when enough new data has arrived to justify a fresh
// semantic query.
//
// Buffer is not safe for concurrent use. Each live session owns exactly one
// Buffer, mutated only from that session's ingestion goroutine.
type Buffer struct {
	windowBytes int
	strideBytes int

	buf     []byte
	pending int
}

// New creates a [Buffer] from cfg. All three parameters must be positive.
func New(cfg Config) (*Buffer, error) {
	if cfg.WindowSeconds <= 0 {
		return nil, fmt.Errorf("window: window_seconds must be positive, got %v", cfg.WindowSeconds)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("window: sample_rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.StrideMS <= 0 {
		return nil, fmt.Errorf("window: stride_ms must be positive, got %d", cfg.StrideMS)
	}

	windowBytes := int(cfg.WindowSeconds * float64(cfg.SampleRate) * bytesPerSample)
	strideBytes := int(float64(cfg.StrideMS) / 1000 * float64(cfg.SampleRate) * bytesPerSample)
	if windowBytes == 0 || strideBytes == 0 {
		return nil, fmt.Errorf("window: window (%v s) and stride (%d ms) must each cover at least one sample at %d Hz",
			cfg.WindowSeconds, cfg.StrideMS, cfg.SampleRate)
	}

	return &Buffer{
		windowBytes: windowBytes,
		strideBytes: strideBytes,
		buf:         make([]byte, 0, windowBytes),
	}, nil
}

// Append adds chunk to the tail of the buffer and reports whether the stride
// threshold has been crossed. When it has, the returned slice is an immutable
// snapshot of the current window: later Append calls never mutate it.
//
// The buffer follows a drop-oldest policy. A chunk larger than the window is
// still appended and then truncated, so only its trailing portion survives —
// newest data wins. Chunks smaller than one sample are accepted as-is; the
// transport contract guarantees well-formed PCM framing.
func (b *Buffer) Append(chunk []byte) ([]byte, bool) {
	b.buf = append(b.buf, chunk...)
	b.pending += len(chunk)

	if len(b.buf) > b.windowBytes {
		// Copy the tail to a fresh backing array so the evicted head does not
		// pin memory for the lifetime of the session.
		fresh := make([]byte, b.windowBytes)
		copy(fresh, b.buf[len(b.buf)-b.windowBytes:])
		b.buf = fresh
	}

	if b.pending < b.strideBytes {
		return nil, false
	}
	b.pending = 0

	snapshot := make([]byte, len(b.buf))
	copy(snapshot, b.buf)
	return snapshot, true
}

// Len returns the number of buffered bytes. Never exceeds [Buffer.WindowBytes].
func (b *Buffer) Len() int { return len(b.buf) }

// Pending returns the number of bytes appended since the last trigger.
func (b *Buffer) Pending() int { return b.pending }

// WindowBytes returns the buffer capacity in bytes.
func (b *Buffer) WindowBytes() int { return b.windowBytes }

// StrideBytes returns the trigger threshold in bytes.
func (b *Buffer) StrideBytes() int { return b.strideBytes }
