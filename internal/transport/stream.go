package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/parityleague/league/internal/log"
	"github.com/parityleague/league/internal/protocol"
)

// maxFrameSize bounds a single newline-delimited frame. Standings
// snapshots are the largest payload and stay well under this.
const maxFrameSize = 4 * 1024 * 1024

// Stream is a line-framed transport over an io.Reader/io.Writer pair: one
// JSON-encoded message per line. It backs stdio-launched agents and the
// in-process pipes used by tests.
type Stream struct {
	reader io.Reader
	writer io.Writer
	logger log.Logger

	writeMu sync.Mutex
	inbound chan protocol.Message

	closeOnce sync.Once
	done      chan struct{}
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithStreamLogger sets the logger used for frame-level diagnostics.
func WithStreamLogger(logger log.Logger) StreamOption {
	return func(s *Stream) { s.logger = logger }
}

// NewStream creates a line-framed transport reading from r and writing to
// w. Neither is closed by Close unless it implements io.Closer.
func NewStream(r io.Reader, w io.Writer, options ...StreamOption) *Stream {
	s := &Stream{
		reader:  r,
		writer:  w,
		logger:  log.NewNop(),
		inbound: make(chan protocol.Message, 16),
		done:    make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Start launches the read loop and returns the inbound message channel.
// The channel is closed when the peer closes its end or Close is called.
func (s *Stream) Start(ctx context.Context) (<-chan protocol.Message, error) {
	go s.readLoop(ctx)
	return s.inbound, nil
}

func (s *Stream) readLoop(ctx context.Context) {
	defer close(s.inbound)

	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Warn("dropping malformed frame", "err", err)
			continue
		}

		select {
		case s.inbound <- msg:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		s.logger.Warn("stream read loop ended", "err", err)
	}
}

// Send writes one message as a single line. Writes are serialized so
// concurrent callers cannot interleave frames.
func (s *Stream) Send(ctx context.Context, msg protocol.Message) error {
	select {
	case <-s.done:
		return newError("send", errors.New("stream closed"))
	case <-ctx.Done():
		return newError("send", ctx.Err())
	default:
	}

	bs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	bs = append(bs, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.writer.Write(bs); err != nil {
		return newError("send", err)
	}
	return nil
}

// Close stops the read loop and closes the underlying reader/writer when
// they support it.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if c, ok := s.reader.(io.Closer); ok {
			_ = c.Close()
		}
		if c, ok := s.writer.(io.Closer); ok {
			_ = c.Close()
		}
	})
	return nil
}
