package shell

import (
	"bytes"
	"io"
)

const (
	streamChunkSize   = 4096
	streamChannelSize = 64
)

// stream pumps one subprocess pipe into a channel of chunks.
// The channel is closed when the pipe reports EOF or any read error, and
// closed is closed right after.
type stream struct {
	chunks chan []byte
	closed chan struct{}
}

func startStream(r io.Reader, quit <-chan struct{}) *stream {
	s := &stream{
		chunks: make(chan []byte, streamChannelSize),
		closed: make(chan struct{}),
	}
	go s.pump(r, quit)
	return s
}

func (s *stream) pump(r io.Reader, quit <-chan struct{}) {
	defer close(s.closed)
	defer close(s.chunks)
	buf := make([]byte, streamChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-quit:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// drain appends every chunk that is already available without blocking.
// It reports false once the stream has been closed.
func (s *stream) drain(dst *bytes.Buffer) bool {
	for {
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				return false
			}
			dst.Write(chunk)
		default:
			return true
		}
	}
}

// discard drops whatever is currently buffered.
func (s *stream) discard() bool {
	var sink bytes.Buffer
	return s.drain(&sink)
}
