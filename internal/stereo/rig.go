package stereo

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ayusman/stereopiano/internal/calibration"
)

// ErrSizeChanged is returned by Reload for a calibration whose image size
// differs from the running one. The keyboard layout and camera checks are
// fixed at startup to that size.
var ErrSizeChanged = errors.New("calibrated image size changed")

// Snapshot bundles a calibration with everything derived from it. Readers
// always see a consistent triple; a reload never mutates a published snapshot.
type Snapshot struct {
	Generation   uint64
	State        *calibration.State
	Maps         *Maps
	Triangulator *Triangulator
}

// Rig owns the current stereo snapshot and swaps it atomically on reload.
type Rig struct {
	current atomic.Pointer[Snapshot]

	mu         sync.Mutex
	generation uint64
}

// NewRig builds the first snapshot from st.
func NewRig(st *calibration.State) (*Rig, error) {
	r := &Rig{}
	if err := r.Reload(st); err != nil {
		return nil, err
	}
	return r, nil
}

// Snapshot returns the current snapshot.
func (r *Rig) Snapshot() *Snapshot {
	return r.current.Load()
}

// Reload rebuilds maps and triangulator for st and publishes them. On error
// the previous snapshot stays current. The image size cannot change.
func (r *Rig) Reload(st *calibration.State) error {
	if cur := r.Snapshot(); cur != nil {
		if have, want := cur.State.ImageSize(), st.ImageSize(); have != want {
			return fmt.Errorf("reload rig: %w: %dx%d, running %dx%d",
				ErrSizeChanged, want.Width, want.Height, have.Width, have.Height)
		}
	}

	maps, err := BuildMaps(st)
	if err != nil {
		return fmt.Errorf("reload rig: %w", err)
	}
	tri, err := NewTriangulator(st.Rectification().Q)
	if err != nil {
		return fmt.Errorf("reload rig: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.generation++
	r.current.Store(&Snapshot{
		Generation:   r.generation,
		State:        st,
		Maps:         maps,
		Triangulator: tri,
	})
	return nil
}

// ReloadFile loads the calibration at path and publishes it.
func (r *Rig) ReloadFile(path string) (*calibration.State, error) {
	st, err := calibration.Load(path)
	if err != nil {
		return nil, err
	}
	if err := r.Reload(st); err != nil {
		return nil, err
	}
	return st, nil
}
