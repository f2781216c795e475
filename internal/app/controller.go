package app

import (
	"log"
	"time"

	"github.com/ayusman/stereopiano/internal/store"
)

// PipelineConfigs returns the configuration of every stage.
func (a *App) PipelineConfigs() map[string]map[string]any {
	a.trackMu.Lock()
	defer a.trackMu.Unlock()
	return a.tracker.Manager().AllConfigs()
}

// PipelineStats returns the counters of every stage.
func (a *App) PipelineStats() map[string]map[string]any {
	a.trackMu.Lock()
	defer a.trackMu.Unlock()
	return a.tracker.Manager().AllStats()
}

// UpdateStage reconfigures one stage and saves the result so it survives a
// restart.
func (a *App) UpdateStage(name string, enabled *bool, params map[string]any) (map[string]any, error) {
	a.trackMu.Lock()
	m := a.tracker.Manager()
	if err := m.Configure(name, params); err != nil {
		a.trackMu.Unlock()
		return nil, err
	}
	if enabled != nil {
		var err error
		if *enabled {
			err = m.Enable(name)
		} else {
			err = m.Disable(name)
		}
		if err != nil {
			a.trackMu.Unlock()
			return nil, err
		}
	}
	cfg := m.AllConfigs()[name]
	a.trackMu.Unlock()

	if a.store != nil {
		setting := store.StageSetting{Enabled: cfg["enabled"].(bool)}
		setting.Params, _ = cfg["params"].(map[string]any)
		if err := a.store.Settings().SaveStage(name, setting); err != nil {
			log.Printf("save %s settings: %v", name, err)
		}
	}

	log.Printf("pipeline stage %s updated: %v", name, cfg)
	return cfg, nil
}

// ResetPipeline releases every held key, then clears pipeline history and
// tracker counters.
func (a *App) ResetPipeline() {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.trackMu.Lock()
	events := a.tracker.ReleaseAll(wallSeconds(time.Now()))
	a.tracker.Reset()
	a.lastChord = nil
	a.trackMu.Unlock()

	a.emit(events)
	log.Println("pipeline reset")
}
