package input

import (
	"context"
	"fmt"
	"io"

	"github.com/nxadm/tail"
	"github.com/rs/zerolog"

	"github.com/developingchet/leroy/internal/metrics"
)

// Tail follows a file the way `tail -F` does, reopening it after rotation.
type Tail struct {
	t   *tail.Tail
	log zerolog.Logger
}

// TailFile starts following path. Unless fromStart is set only lines
// appended after startup are read.
func TailFile(path string, fromStart bool, maxLine int, log zerolog.Logger) (*Tail, error) {
	whence := io.SeekEnd
	if fromStart {
		whence = io.SeekStart
	}
	t, err := tail.TailFile(path, tail.Config{
		Follow:      true,
		ReOpen:      true,
		MustExist:   true,
		MaxLineSize: maxLine,
		Location:    &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:      tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("tail %s: %w", path, err)
	}
	return &Tail{
		t:   t,
		log: log.With().Str("component", "input").Str("file", path).Logger(),
	}, nil
}

func (t *Tail) Next(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case line, ok := <-t.t.Lines:
			if !ok {
				if err := t.t.Err(); err != nil {
					return nil, err
				}
				return nil, io.EOF
			}
			if line.Err != nil {
				metrics.InputErrors.WithLabelValues("tail").Inc()
				t.log.Warn().Err(line.Err).Msg("tail error")
				continue
			}
			return []byte(line.Text), nil
		}
	}
}

// Close stops following the file and releases its watches.
func (t *Tail) Close() error {
	err := t.t.Stop()
	t.t.Cleanup()
	return err
}
