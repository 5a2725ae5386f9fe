// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gozip

import (
	"context"
	"io"
)

// contextReader wraps an io.Reader to make it respect context cancellation,
// used by the Streamer's WriteFile helpers so a caller-supplied body reader
// can be abandoned mid-read when its context.Context is canceled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (n int, err error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
