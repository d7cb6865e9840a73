package util

import (
	"io"
	"time"
)

// TimeReader accumulates the time spent in the underlying reader
type TimeReader struct {
	R  io.Reader
	dt time.Duration
}

func (tr *TimeReader) Read(p []byte) (n int, err error) {
	start := time.Now()
	n, err = tr.R.Read(p)
	tr.dt += time.Since(start)
	return n, err
}

func (tr *TimeReader) GetCost() time.Duration {
	return tr.dt
}
