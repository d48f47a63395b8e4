package cube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

const streamChunkSize = 32 * 1024

// ChatStream is an open upstream chat response. It owns the upstream
// connection: Close releases it, and is safe to call any number of times.
type ChatStream struct {
	body        io.ReadCloser
	cancel      context.CancelFunc
	contentType string
	buf         []byte

	once     sync.Once
	closeErr error
}

func newChatStream(resp *http.Response, cancel context.CancelFunc) *ChatStream {
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "text/event-stream"
	}
	return &ChatStream{
		body:        resp.Body,
		cancel:      cancel,
		contentType: ct,
		buf:         make([]byte, streamChunkSize),
	}
}

// ContentType is the upstream content type, defaulting to text/event-stream.
func (s *ChatStream) ContentType() string {
	return s.contentType
}

// Next returns the next chunk of upstream bytes. The slice is only valid
// until the following call. At end of stream it returns io.EOF.
func (s *ChatStream) Next() ([]byte, error) {
	n, err := s.body.Read(s.buf)
	if n > 0 {
		return s.buf[:n], nil
	}
	if err == nil {
		return nil, nil
	}
	return nil, err
}

// Close closes the upstream body and cancels the upstream request.
func (s *ChatStream) Close() error {
	s.once.Do(func() {
		s.closeErr = s.body.Close()
		if s.cancel != nil {
			s.cancel()
		}
	})
	return s.closeErr
}

// Pump copies the stream to dst verbatim, calling flush after each write,
// until the upstream ends, dst fails, or ctx is done. The stream is closed
// on every path. A dst failure or ctx cancellation returns ErrStreamAborted;
// an upstream read failure returns ErrUpstream.
func Pump(ctx context.Context, s *ChatStream, dst io.Writer, flush func()) (int64, error) {
	defer s.Close()

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("%w: %v", ErrStreamAborted, err)
		}

		chunk, err := s.Next()
		if len(chunk) > 0 {
			n, werr := dst.Write(chunk)
			written += int64(n)
			if werr != nil {
				return written, fmt.Errorf("%w: %v", ErrStreamAborted, werr)
			}
			if flush != nil {
				flush()
			}
		}

		switch {
		case err == io.EOF:
			return written, nil
		case err != nil && ctx.Err() != nil:
			return written, fmt.Errorf("%w: %v", ErrStreamAborted, ctx.Err())
		case err != nil:
			return written, fmt.Errorf("%w: reading chat stream: %v", ErrUpstream, err)
		}
	}
}
