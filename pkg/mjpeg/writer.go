package mjpeg

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

const (
	Boundary    = "frame"
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary
)

// Writer sends each JPEG as one part of multipart stream. Parts are closed
// right after the image, otherwise browsers show it one frame late.
type Writer struct {
	w   io.Writer
	buf bytes.Buffer
	seq int
}

// NewWriter sets stream headers when w is http response.
func NewWriter(w io.Writer) *Writer {
	if rw, ok := w.(http.ResponseWriter); ok {
		h := rw.Header()
		h.Set("Content-Type", ContentType)
		h.Set("Cache-Control", "no-cache")
	}
	return &Writer{w: w}
}

func (w *Writer) Write(jpeg []byte) (int, error) {
	w.seq++

	w.buf.Reset()
	w.buf.WriteString("--" + Boundary + "\r\nContent-Type: image/jpeg\r\nContent-Length: ")
	w.buf.WriteString(strconv.Itoa(len(jpeg)))
	w.buf.WriteString("\r\nX-Frame: ")
	w.buf.WriteString(strconv.Itoa(w.seq))
	w.buf.WriteString("\r\n\r\n")
	w.buf.Write(jpeg)
	w.buf.WriteString("\r\n")

	if _, err := w.w.Write(w.buf.Bytes()); err != nil {
		return 0, err
	}

	if f, ok := w.w.(http.Flusher); ok {
		f.Flush()
	}

	return len(jpeg), nil
}

// Frames returns number of written frames.
func (w *Writer) Frames() int {
	return w.seq
}
