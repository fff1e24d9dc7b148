package server

import (
	"fmt"
	"net/http"
)

const boundary = "frame"

// MJPEGWriter writes a multipart/x-mixed-replace stream of JPEG parts.
type MJPEGWriter struct {
	w       http.ResponseWriter
	started bool
}

func NewMJPEGWriter(w http.ResponseWriter) *MJPEGWriter {
	w.Header().Set("Connection", "close")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", boundary))
	return &MJPEGWriter{w: w}
}

func (m *MJPEGWriter) WriteFrame(jpeg []byte) error {
	prefix := "\r\n"
	if !m.started {
		// First boundary without leading CRLF is more widely compatible
		prefix = ""
		m.started = true
	}
	if _, err := fmt.Fprintf(m.w, "%s--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", prefix, boundary, len(jpeg)); err != nil {
		return err
	}
	_, err := m.w.Write(jpeg)
	return err
}
