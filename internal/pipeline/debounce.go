package pipeline

// Debounce drops repeat presses of a key that arrive within DebounceTime of
// the last accepted press of that key.
type Debounce struct {
	base
	debounceTime float64
	lastPress    map[int]float64

	totalChecks int
	blocked     int
	allowed     int
}

// NewDebounce creates an enabled debounce stage. debounceTime is in seconds.
func NewDebounce(debounceTime float64) *Debounce {
	return &Debounce{
		base:         base{name: StageDebounce, enabled: true},
		debounceTime: debounceTime,
		lastPress:    make(map[int]float64),
	}
}

// Process keeps a detection if its key has not been accepted within the
// window. Blocked presses do not extend the window. Keyless detections pass
// through uncounted.
func (d *Debounce) Process(dets []Detection, ctx *Context) []Detection {
	now := ctx.Timestamp
	out := make([]Detection, 0, len(dets))

	for _, det := range dets {
		key, ok := det.KeyValue()
		if !ok {
			out = append(out, det)
			continue
		}

		d.totalChecks++
		if last, seen := d.lastPress[key]; seen && now-last < d.debounceTime {
			d.blocked++
			continue
		}

		d.lastPress[key] = now
		d.allowed++
		out = append(out, det)
	}
	return out
}

// Configure accepts debounce_time (seconds).
func (d *Debounce) Configure(params map[string]any) error {
	v, ok, err := floatParam(params, "debounce_time")
	if err != nil {
		return err
	}
	if ok {
		d.debounceTime = v
	}
	return nil
}

// Reset forgets every key's last press and zeroes the counters.
func (d *Debounce) Reset() {
	clear(d.lastPress)
	d.totalChecks = 0
	d.blocked = 0
	d.allowed = 0
}

func (d *Debounce) Stats() map[string]any {
	return map[string]any{
		"total_checks":    d.totalChecks,
		"blocked_presses": d.blocked,
		"allowed_presses": d.allowed,
	}
}

func (d *Debounce) Config() map[string]any {
	return map[string]any{"debounce_time": d.debounceTime}
}
