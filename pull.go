// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import (
	"io"
	"net/http"
	"time"
)

// chunkSink is the Sink a PullReader binds its internal Streamer to: every
// Write is forwarded onto a bounded channel instead of a real destination,
// turning the Streamer's push-based writes into chunks a consumer pulls on
// its own schedule.
type chunkSink struct {
	chunks chan<- []byte
	done   <-chan struct{}
}

// Write copies p (the Streamer and its coalescing buffer reuse their
// internal buffers between calls, so the chunk must not alias them) and
// pushes the copy onto the channel, blocking until the consumer pulls it or
// the PullReader is abandoned.
func (s chunkSink) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case s.chunks <- buf:
		return len(p), nil
	case <-s.done:
		return 0, ErrInvalidOutput
	}
}

// PullReader turns a push-based producer callback (which drives a Streamer
// directly) into a lazy byte-chunk iterator suitable for an HTTP response
// body: the producer runs on its own goroutine and blocks on a bounded
// channel whenever the consumer is not yet ready for the next chunk, so at
// most one chunk is ever buffered ahead of the reader.
type PullReader struct {
	chunks chan []byte
	done   chan struct{}
	errc   chan error

	pending []byte
	err     error
	closed  bool
}

// NewPullReader starts produce on its own goroutine, feeding it a Sink that
// yields chunks through the returned PullReader's Read method. produce is
// handed the Sink to build a Streamer over (via NewStreamer) and is expected
// to drive it to completion (Close) before returning; the error it returns
// surfaces from Read once all buffered chunks are drained.
func NewPullReader(produce func(dst Sink) error) *PullReader {
	pr := &PullReader{
		chunks: make(chan []byte),
		done:   make(chan struct{}),
		errc:   make(chan error, 1),
	}

	go func() {
		defer close(pr.chunks)
		sink := chunkSink{chunks: pr.chunks, done: pr.done}
		pr.errc <- produce(sink)
	}()

	return pr
}

// Read implements io.Reader, pulling the next buffered chunk as needed.
// Chunks yielded share no backing buffer across iterations: each Read call
// either drains the current chunk or blocks for the next one.
func (pr *PullReader) Read(p []byte) (int, error) {
	for len(pr.pending) == 0 {
		if pr.err != nil {
			return 0, pr.err
		}
		chunk, ok := <-pr.chunks
		if !ok {
			pr.err = <-pr.errc
			if pr.err == nil {
				pr.err = io.EOF
			}
			continue
		}
		pr.pending = chunk
	}

	n := copy(p, pr.pending)
	pr.pending = pr.pending[n:]
	return n, nil
}

// Close abandons the PullReader, releasing the producer goroutine if it is
// currently blocked waiting to push a chunk. It does not wait for the
// producer to observe the abandonment.
func (pr *PullReader) Close() error {
	if pr.closed {
		return nil
	}
	pr.closed = true
	close(pr.done)
	return nil
}

// RecommendedHeaders returns the HTTP response headers recommended when
// serving a streamed archive body: they disable buffering and re-compression
// middleware that would otherwise break a truly streamed, unbounded-length
// response.
func RecommendedHeaders(modTime time.Time) http.Header {
	h := make(http.Header, 4)
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Encoding", "identity")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	return h
}
