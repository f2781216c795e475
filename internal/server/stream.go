package server

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// streamInterval paces the preview at about 15 fps.
const streamInterval = 66 * time.Millisecond

// PreviewBuffer holds the latest rectified pair, side by side, for the
// preview stream. The frame loop only fills it while someone is watching.
type PreviewBuffer struct {
	mu       sync.Mutex
	frame    gocv.Mat
	seq      uint64
	watchers atomic.Int32
}

// NewPreviewBuffer creates an empty buffer.
func NewPreviewBuffer() *PreviewBuffer {
	return &PreviewBuffer{frame: gocv.NewMat()}
}

// Watching reports whether any stream client is connected.
func (p *PreviewBuffer) Watching() bool {
	return p.watchers.Load() > 0
}

// Update stores left and right side by side. Both must have the same height
// and type.
func (p *PreviewBuffer) Update(left, right gocv.Mat) error {
	if left.Empty() || right.Empty() {
		return fmt.Errorf("empty preview frame")
	}
	if left.Rows() != right.Rows() || left.Type() != right.Type() {
		return fmt.Errorf("preview frames differ: %dx%d vs %dx%d", left.Cols(), left.Rows(), right.Cols(), right.Rows())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	gocv.Hconcat(left, right, &p.frame)
	p.seq++
	return nil
}

// JPEG encodes the latest frame. It returns false when nothing newer than
// after has been stored.
func (p *PreviewBuffer) JPEG(after uint64) ([]byte, uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seq == after || p.frame.Empty() {
		return nil, p.seq, false
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, p.frame)
	if err != nil {
		return nil, p.seq, false
	}
	defer buf.Close()

	return buf.GetBytes(), p.seq, true
}

// Close releases the stored frame.
func (p *PreviewBuffer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frame.Close()
	p.frame = gocv.NewMat()
}

// StreamHandler serves the preview as MJPEG.
type StreamHandler struct {
	preview *PreviewBuffer
}

// NewStreamHandler creates a new StreamHandler over preview.
func NewStreamHandler(preview *PreviewBuffer) *StreamHandler {
	return &StreamHandler{preview: preview}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.preview.watchers.Add(1)
	defer h.preview.watchers.Add(-1)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	var seq uint64
	for {
		if data, next, ok := h.preview.JPEG(seq); ok {
			seq = next
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
			if _, err := w.Write(data); err != nil {
				return
			}
			fmt.Fprintf(w, "\r\n")

			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
