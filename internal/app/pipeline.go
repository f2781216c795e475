package app

import (
	"context"
	"image"
	"image/color"
	"log"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/stereopiano/internal/capture"
	"github.com/ayusman/stereopiano/internal/keyboard"
)

// runPipeline is the frame loop. Each tick reads a pair, runs hand
// detection on both views and feeds the fingertips to the tracker.
//
// With an idle rate configured, the loop drops the cameras to IdleFPS after
// IdleAfter seconds without motion over the keyboard and without held keys,
// and skips detection until motion returns.
func (a *App) runPipeline(ctx context.Context, done chan struct{}) {
	defer close(done)

	activeInterval := a.cfg.FrameInterval()
	ticker := time.NewTicker(activeInterval)
	defer ticker.Stop()

	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()

	idleAfter := time.Duration(a.cfg.Camera.IdleAfter * float64(time.Second))
	lastMotion := time.Now()
	var readErrors int
	skewWarned := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-statusTicker.C:
			a.publishStatus()
		case <-ticker.C:
			if !a.IsEnabled() {
				continue
			}

			pair, err := a.camera.ReadPair()
			if err != nil {
				// Log the first failure of a run, not every tick.
				if readErrors == 0 {
					log.Printf("Error reading frames: %v", err)
				}
				readErrors++
				continue
			}
			readErrors = 0
			now := time.Now()
			if !skewWarned && pair.Skew > activeInterval/2 {
				log.Printf("Stereo views are %v apart; fast strokes may misjudge depth", pair.Skew)
				skewWarned = true
			}

			moving, _ := a.motion.Detect(pair.Left)
			if moving || len(a.heldKeys()) > 0 {
				lastMotion = now
			}

			idle := a.isIdle()
			switch {
			case idle && moving:
				a.setIdle(false)
				a.camera.SetFPS(a.cfg.TargetFPS)
				ticker.Reset(activeInterval)
				idle = false
				log.Println("Switched to active mode")
			case !idle && a.cfg.Camera.IdleFPS > 0 && now.Sub(lastMotion) > idleAfter:
				a.setIdle(true)
				a.camera.SetFPS(a.cfg.Camera.IdleFPS)
				ticker.Reset(time.Second / time.Duration(a.cfg.Camera.IdleFPS))
				idle = true
				log.Println("Switched to idle mode")
			}

			if idle {
				pair.Close()
				continue
			}

			a.processFrames(pair, wallSeconds(now))
		}
	}
}

// processFrames detects fingertips in pair, updates the preview and runs the
// tracker. It closes pair.
func (a *App) processFrames(pair capture.Pair, ts float64) {
	defer pair.Close()

	fp, err := a.detector.Detect(pair.Left, pair.Right, ts)
	if err != nil {
		log.Printf("Error detecting hands: %v", err)
		return
	}

	a.ProcessPair(fp)
	a.updatePreview(pair)
}

func (a *App) isIdle() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.idle
}

func (a *App) setIdle(idle bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.idle = idle
}

var (
	keyOutline = color.RGBA{R: 0, G: 200, B: 255, A: 0}
	keyHeld    = color.RGBA{R: 255, G: 80, B: 0, A: 0}
)

// updatePreview rectifies the pair and draws the keyboard over the left view
// when the preview is being watched.
func (a *App) updatePreview(pair capture.Pair) {
	a.mu.RLock()
	preview := a.preview
	a.mu.RUnlock()

	if preview == nil || !preview.Watching() {
		return
	}

	left, right, err := a.remapper.Rectify(a.rig.Snapshot().Maps, *pair.Left, *pair.Right)
	if err != nil {
		log.Printf("rectify preview: %v", err)
		return
	}
	defer left.Close()
	defer right.Close()

	held := make(map[int]bool)
	var names []string
	for _, k := range a.heldKeys() {
		held[k] = true
		names = append(names, keyboard.Name(k))
	}
	for _, key := range a.layout.Keys() {
		if held[key.ID] {
			gocv.Rectangle(&left, key.Rect, keyHeld, -1)
			continue
		}
		gocv.Rectangle(&left, key.Rect, keyOutline, 1)
	}
	if len(names) > 0 {
		gocv.PutText(&left, strings.Join(names, " "), image.Pt(8, 20), gocv.FontHersheyPlain, 1.2, keyHeld, 1)
	}

	if err := preview.Update(left, right); err != nil {
		log.Printf("update preview: %v", err)
	}
}

func (a *App) publishStatus() {
	a.mu.RLock()
	fn := a.onStatus
	a.mu.RUnlock()

	if fn != nil {
		fn(a.Status())
	}
}
