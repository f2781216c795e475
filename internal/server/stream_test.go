package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

func solid(width, height int, v float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), height, width, gocv.MatTypeCV8UC3)
}

func TestPreviewBuffer(t *testing.T) {
	p := NewPreviewBuffer()
	defer p.Close()

	if _, _, ok := p.JPEG(0); ok {
		t.Fatal("expected no frame before the first update")
	}

	left := solid(64, 48, 0)
	defer left.Close()
	right := solid(64, 48, 255)
	defer right.Close()

	if err := p.Update(left, right); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	data, seq, ok := p.JPEG(0)
	if !ok {
		t.Fatal("expected a frame")
	}
	if seq != 1 {
		t.Errorf("expected seq 1, got %d", seq)
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		t.Fatalf("IMDecode() failed: %v", err)
	}
	defer img.Close()
	if img.Cols() != 128 || img.Rows() != 48 {
		t.Errorf("expected 128x48 side-by-side frame, got %dx%d", img.Cols(), img.Rows())
	}

	if _, _, ok := p.JPEG(seq); ok {
		t.Error("expected no new frame for the same seq")
	}
}

func TestPreviewBuffer_RejectsMismatch(t *testing.T) {
	p := NewPreviewBuffer()
	defer p.Close()

	left := solid(64, 48, 0)
	defer left.Close()
	short := solid(64, 24, 0)
	defer short.Close()
	empty := gocv.NewMat()
	defer empty.Close()

	if err := p.Update(left, short); err == nil {
		t.Error("expected error for different heights")
	}
	if err := p.Update(left, empty); err == nil {
		t.Error("expected error for an empty frame")
	}
}

func TestStreamHandler(t *testing.T) {
	p := NewPreviewBuffer()
	defer p.Close()

	left := solid(32, 24, 10)
	defer left.Close()
	right := solid(32, 24, 200)
	defer right.Close()
	if err := p.Update(left, right); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	ts := httptest.NewServer(NewStreamHandler(p))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Errorf("unexpected content type %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if strings.TrimSpace(line) != "--frame" {
		t.Errorf("expected frame boundary, got %q", line)
	}
	line, _ = r.ReadString('\n')
	if strings.TrimSpace(line) != "Content-Type: image/jpeg" {
		t.Errorf("expected jpeg part, got %q", line)
	}

	if !p.Watching() {
		t.Error("expected the preview to be watched while streaming")
	}

	cancel()
	waitFor(t, func() bool { return !p.Watching() })
}

func TestStreamHandler_MethodNotAllowed(t *testing.T) {
	h := NewStreamHandler(NewPreviewBuffer())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stream", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

