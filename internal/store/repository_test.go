package store

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/ayusman/stereopiano/internal/calibration/calibrationtest"
	"github.com/ayusman/stereopiano/internal/tracking"
)

func TestCalibrationRepository(t *testing.T) {
	s := newTestStore(t)
	repo := s.Calibrations()

	if _, err := repo.Latest(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Latest() on empty store = %v, want ErrNotFound", err)
	}

	st := calibrationtest.DefaultRig().State(t)
	saved, err := repo.Save(st)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	// Saving again must not fail or duplicate.
	if _, err := repo.Save(st); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := repo.GetByID(saved.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Width != 640 || got.Height != 480 {
		t.Errorf("size = %dx%d, want 640x480", got.Width, got.Height)
	}
	if math.Abs(got.BaselineCM-6) > 1e-9 {
		t.Errorf("BaselineCM = %f, want 6", got.BaselineCM)
	}
	if !json.Valid(got.Record) {
		t.Error("stored record is not valid JSON")
	}

	second := calibrationtest.DefaultRig().State(t)
	if _, err := repo.Save(second); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	all, err := repo.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List() returned %d calibrations, want 2", len(all))
	}

	latest, err := repo.Latest()
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.ID != second.ID() {
		t.Errorf("Latest().ID = %s, want %s", latest.ID, second.ID())
	}

	if _, err := repo.GetByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(missing) = %v, want ErrNotFound", err)
	}
}

func TestSessionAndEvents(t *testing.T) {
	s := newTestStore(t)

	st := calibrationtest.DefaultRig().State(t)
	if _, err := s.Calibrations().Save(st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	sess, err := s.Sessions().Start(st.ID())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	events := []tracking.KeyEvent{
		{Kind: tracking.Press, Key: 0, Note: 60, FingerID: 1, Velocity: 2.5, Depth: 41, Chord: []int{0, 4}, Timestamp: 1.0},
		{Kind: tracking.Press, Key: 4, Note: 64, FingerID: 2, Velocity: 2.1, Depth: 42, Chord: []int{0, 4}, Timestamp: 1.0},
		{Kind: tracking.Release, Key: 0, Note: 60, FingerID: 1, Depth: 41, Timestamp: 1.5},
	}
	if err := s.Events().Insert(sess.ID, events); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := s.Events().Insert(sess.ID, nil); err != nil {
		t.Fatalf("Insert(nil) error = %v", err)
	}

	got, err := s.Events().ListBySession(sess.ID, 0)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListBySession() returned %d events, want 3", len(got))
	}
	if !reflect.DeepEqual(got[1].Chord, []int{0, 4}) {
		t.Errorf("chord = %v, want [0 4]", got[1].Chord)
	}
	if got[2].Kind != tracking.Release || got[2].Chord != nil {
		t.Errorf("third event = %+v, want a release without chord", got[2])
	}
	if got[0].SessionID != sess.ID {
		t.Errorf("SessionID = %q, want %q", got[0].SessionID, sess.ID)
	}

	limited, err := s.Events().ListBySession(sess.ID, 2)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited list has %d events, want 2", len(limited))
	}

	presses, releases, err := s.Events().CountBySession(sess.ID)
	if err != nil {
		t.Fatalf("CountBySession() error = %v", err)
	}
	if presses != 2 || releases != 1 {
		t.Errorf("counts = %d/%d, want 2/1", presses, releases)
	}

	if err := s.Sessions().End(sess.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	ended, err := s.Sessions().GetByID(sess.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if ended.EndedAt == nil {
		t.Error("EndedAt should be set after End")
	}
	if ended.CalibrationID != st.ID() {
		t.Errorf("CalibrationID = %q, want %q", ended.CalibrationID, st.ID())
	}

	if err := s.Sessions().End("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("End(missing) = %v, want ErrNotFound", err)
	}
}

func TestSessionWithoutCalibration(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.Sessions().Start("")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	got, err := s.Sessions().GetByID(sess.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.CalibrationID != "" || got.EndedAt != nil {
		t.Errorf("session = %+v, want no calibration and still open", got)
	}
}

func TestEventsRequireSession(t *testing.T) {
	s := newTestStore(t)

	err := s.Events().Insert("missing", []tracking.KeyEvent{{Kind: tracking.Press}})
	if err == nil {
		t.Error("expected foreign key error for unknown session")
	}
}

func TestBindingRepository(t *testing.T) {
	s := newTestStore(t)
	repo := s.Bindings()

	key := 4
	all := &Binding{PluginName: "note-echo", Enabled: true}
	one := &Binding{PluginName: "midi-out", Key: &key, Config: json.RawMessage(`{"channel":2}`), Enabled: true}
	off := &Binding{PluginName: "muted", Enabled: false}

	for _, b := range []*Binding{all, one, off} {
		if err := repo.Create(b); err != nil {
			t.Fatalf("Create(%s) error = %v", b.PluginName, err)
		}
		if b.ID == "" || b.CreatedAt.IsZero() {
			t.Errorf("Create(%s) did not fill ID and CreatedAt", b.PluginName)
		}
	}

	got, err := repo.GetByID(one.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Key == nil || *got.Key != 4 {
		t.Errorf("Key = %v, want 4", got.Key)
	}
	if string(got.Config) != `{"channel":2}` {
		t.Errorf("Config = %s", got.Config)
	}

	tests := []struct {
		key  int
		want []string
	}{
		{4, []string{"note-echo", "midi-out"}},
		{7, []string{"note-echo"}},
	}
	for _, tt := range tests {
		bindings, err := repo.ListForKey(tt.key)
		if err != nil {
			t.Fatalf("ListForKey(%d) error = %v", tt.key, err)
		}
		var names []string
		for _, b := range bindings {
			names = append(names, b.PluginName)
			if !b.Matches(tt.key) {
				t.Errorf("binding %s listed for key %d but does not match", b.PluginName, tt.key)
			}
		}
		if !reflect.DeepEqual(names, tt.want) {
			t.Errorf("ListForKey(%d) = %v, want %v", tt.key, names, tt.want)
		}
	}

	all.Key = &key
	all.Enabled = false
	if err := repo.Update(all); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	bindings, err := repo.ListForKey(7)
	if err != nil {
		t.Fatalf("ListForKey() error = %v", err)
	}
	if len(bindings) != 0 {
		t.Errorf("ListForKey(7) after update = %d bindings, want 0", len(bindings))
	}

	if err := repo.Delete(off.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(off.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
	if err := repo.Update(&Binding{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) = %v, want ErrNotFound", err)
	}

	list, err := repo.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("List() = %d bindings, want 2", len(list))
	}
}

func TestSettingsRepository(t *testing.T) {
	s := newTestStore(t)
	repo := s.Settings()

	if _, err := repo.Get("theme"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}

	if err := repo.Set("theme", "dark"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := repo.Set("theme", "light"); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	if v, err := repo.Get("theme"); err != nil || v != "light" {
		t.Errorf("Get() = %q, %v; want light", v, err)
	}

	if err := repo.SaveStage("debounce", StageSetting{
		Enabled: false,
		Params:  map[string]any{"debounce_time": 0.08},
	}); err != nil {
		t.Fatalf("SaveStage() error = %v", err)
	}
	if err := repo.SaveStage("smoothing", StageSetting{
		Enabled: true,
		Params:  map[string]any{"smoothing_window": 5},
	}); err != nil {
		t.Fatalf("SaveStage() error = %v", err)
	}

	stages, err := repo.Stages()
	if err != nil {
		t.Fatalf("Stages() error = %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("Stages() = %d entries, want 2 (theme must be excluded)", len(stages))
	}
	if stages["debounce"].Enabled {
		t.Error("debounce should be stored disabled")
	}
	if v := stages["debounce"].Params["debounce_time"]; v != 0.08 {
		t.Errorf("debounce_time = %v, want 0.08", v)
	}
	// JSON numbers come back as float64.
	if v := stages["smoothing"].Params["smoothing_window"]; v != 5.0 {
		t.Errorf("smoothing_window = %v, want 5", v)
	}

	if err := repo.Delete("theme"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete("theme"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
}
