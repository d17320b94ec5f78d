package ssr

import (
	"io"
	"sync"
)

// chunkPipe moves rendered byte chunks from a pinned worker to the response
// body without letting the two sides share a buffer. Closing the read side
// unblocks a writer stuck on a slow or disconnected client.
type chunkPipe struct {
	ch   chan []byte
	done chan struct{}

	mu       sync.Mutex
	writeErr error

	leftover  []byte
	closeOnce sync.Once
}

func newChunkPipe() *chunkPipe {
	return &chunkPipe{
		ch:   make(chan []byte, 32),
		done: make(chan struct{}),
	}
}

// send delivers one chunk to the reader. It fails once the reader is gone.
func (p *chunkPipe) send(chunk []byte) error {
	select {
	case p.ch <- chunk:
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	}
}

// closeWrite ends the stream. A non-nil err is surfaced to the reader after
// the chunks already sent.
func (p *chunkPipe) closeWrite(err error) {
	p.mu.Lock()
	p.writeErr = err
	p.mu.Unlock()
	close(p.ch)
}

// Read implements io.Reader over the chunk stream.
func (p *chunkPipe) Read(b []byte) (int, error) {
	if len(p.leftover) > 0 {
		n := copy(b, p.leftover)
		p.leftover = p.leftover[n:]
		return n, nil
	}

	chunk, ok := <-p.ch
	if !ok {
		p.mu.Lock()
		err := p.writeErr
		p.mu.Unlock()
		if err != nil {
			return 0, err
		}
		return 0, io.EOF
	}

	n := copy(b, chunk)
	if n < len(chunk) {
		p.leftover = chunk[n:]
	}
	return n, nil
}

// Close releases the read side and unblocks any pending writer.
func (p *chunkPipe) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
