package input

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/developingchet/leroy/internal/metrics"
)

// Reader reads newline-terminated lines from an io.Reader. Reading happens
// on a separate goroutine so Next can honour context cancellation even
// while the underlying read blocks, as it does on an idle stdin.
//
// Lines longer than maxLine bytes are skipped whole.
type Reader struct {
	lines chan []byte
	stop  chan struct{}
	once  sync.Once
	err   error // terminal read error, set before lines is closed
	log   zerolog.Logger
}

// NewReader starts reading from r.
func NewReader(r io.Reader, maxLine int, log zerolog.Logger) *Reader {
	if maxLine < 16 {
		maxLine = 16 // bufio minimum
	}
	rd := &Reader{
		lines: make(chan []byte, 256),
		stop:  make(chan struct{}),
		log:   log.With().Str("component", "input").Logger(),
	}
	go rd.loop(bufio.NewReaderSize(r, maxLine))
	return rd
}

func (r *Reader) loop(br *bufio.Reader) {
	defer close(r.lines)
	for {
		line, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			skipped := len(line) + discardLine(br)
			metrics.InputErrors.WithLabelValues("line_too_long").Inc()
			r.log.Warn().Int("bytes", skipped).Msg("skipping oversized input line")
			continue
		}
		if len(line) > 0 {
			out := bytes.TrimRight(line, "\r\n")
			cp := make([]byte, len(out))
			copy(cp, out)
			select {
			case r.lines <- cp:
			case <-r.stop:
				return
			}
		}
		if err != nil {
			r.err = err
			return
		}
	}
}

// discardLine consumes the rest of the current line and returns how many
// bytes it dropped.
func discardLine(br *bufio.Reader) int {
	n := 0
	for {
		chunk, err := br.ReadSlice('\n')
		n += len(chunk)
		if !errors.Is(err, bufio.ErrBufferFull) {
			return n
		}
	}
}

func (r *Reader) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case line, ok := <-r.lines:
		if !ok {
			if r.err != nil {
				return nil, r.err
			}
			return nil, io.EOF
		}
		return line, nil
	}
}

// Close stops the reader goroutine once its pending read returns. The
// underlying reader is not closed.
func (r *Reader) Close() error {
	r.once.Do(func() { close(r.stop) })
	return nil
}
