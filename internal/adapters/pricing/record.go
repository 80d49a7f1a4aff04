package pricing

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"

	"simplebot/internal/domain"
)

// Recorder appends ticks to w as one message per line, in the same form
// the stream delivers them.
type Recorder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewRecorder creates a recorder writing to w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

// Record writes one tick. It matches the bot's tick handler signature.
func (r *Recorder) Record(t domain.Tick) error {
	raw, err := Encode(t)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.w.Write(append(raw, '\n'))
	return err
}

// ReadTicks decodes a recording. Blank lines are skipped; an invalid line
// fails the read with its line number.
func ReadTicks(r io.Reader) ([]domain.Tick, error) {
	d := NewDecoder()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var ticks []domain.Tick
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		tick, err := d.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ticks = append(ticks, tick)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	return ticks, nil
}
