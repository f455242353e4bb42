package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
)

// captureWriter delivers a response to the client untouched while keeping a
// private copy of every byte, so the finished response can be cached. A
// failed write, or a Fail from the handler, marks the copy incomplete.
type captureWriter struct {
	http.ResponseWriter
	status int
	header http.Header
	buf    bytes.Buffer
	err    error
}

func newCaptureWriter(w http.ResponseWriter) *captureWriter {
	return &captureWriter{ResponseWriter: w}
}

func (c *captureWriter) WriteHeader(status int) {
	if c.status != 0 {
		return
	}
	c.status = status
	c.header = c.ResponseWriter.Header().Clone()
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.WriteHeader(http.StatusOK)
	}
	n, err := c.ResponseWriter.Write(p)
	c.buf.Write(p[:n])
	if err != nil {
		c.Fail(err)
	}
	return n, err
}

// Fail records that the response is incomplete. The first cause wins.
func (c *captureWriter) Fail(err error) {
	if c.err == nil && err != nil {
		c.err = err
	}
}

// Complete reports why the captured body cannot be trusted, or nil.
func (c *captureWriter) Complete() error {
	if c.err != nil {
		return c.err
	}
	h := c.header
	if h == nil {
		h = c.ResponseWriter.Header()
	}
	if cl := h.Get("Content-Length"); cl != "" {
		want, err := strconv.ParseInt(cl, 10, 64)
		if err == nil && int64(c.buf.Len()) < want {
			return fmt.Errorf("short body: %d of %d bytes", c.buf.Len(), want)
		}
	}
	return nil
}

func (c *captureWriter) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (c *captureWriter) Unwrap() http.ResponseWriter { return c.ResponseWriter }

func (c *captureWriter) Status() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

// Snapshot returns an independent copy of what was delivered.
func (c *captureWriter) Snapshot() (int, http.Header, []byte) {
	h := c.header
	if h == nil {
		h = c.ResponseWriter.Header().Clone()
	}
	return c.Status(), h.Clone(), bytes.Clone(c.buf.Bytes())
}
