package plugin

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"github.com/ayusman/stereopiano/internal/store"
	"github.com/ayusman/stereopiano/internal/tracking"
)

// dispatchQueue bounds events waiting for plugins.
const dispatchQueue = 128

// BindingSource returns the bindings that apply to a key.
type BindingSource interface {
	ListForKey(key int) ([]*store.Binding, error)
}

// DispatchStats are dispatcher counters.
type DispatchStats struct {
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

type target struct {
	plugin *Plugin
	config json.RawMessage
}

// Dispatcher runs plugins for key events off the frame loop. Presses become
// note_on and releases note_off.
type Dispatcher struct {
	manager   *Manager
	executor  *Executor
	bindings  BindingSource
	broadcast []string

	mu     sync.RWMutex
	closed bool
	queue  chan tracking.KeyEvent
	wg     sync.WaitGroup

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher creates a Dispatcher. bindings may be nil; broadcast plugins
// receive every event.
func NewDispatcher(manager *Manager, executor *Executor, bindings BindingSource, broadcast []string) *Dispatcher {
	return &Dispatcher{
		manager:   manager,
		executor:  executor,
		bindings:  bindings,
		broadcast: broadcast,
		queue:     make(chan tracking.KeyEvent, dispatchQueue),
	}
}

// NewRequest builds the plugin request for ev.
func NewRequest(ev tracking.KeyEvent, config json.RawMessage) *Request {
	action := ActionNoteOn
	if ev.Kind == tracking.Release {
		action = ActionNoteOff
	}
	if config == nil {
		config = json.RawMessage("{}")
	}
	chord := ev.Chord
	if chord == nil {
		chord = []int{}
	}
	return &Request{
		Action:    action,
		Key:       ev.Key,
		Note:      ev.Note,
		Name:      ev.Name,
		Velocity:  ev.Velocity,
		Depth:     ev.Depth,
		Chord:     chord,
		Timestamp: ev.Timestamp,
		Config:    config,
	}
}

// Start delivers queued events until ctx is done or Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-d.queue:
				if !ok {
					return
				}
				d.deliver(ctx, ev)
			}
		}
	}()
}

// Dispatch queues ev and reports whether it was accepted.
func (d *Dispatcher) Dispatch(ev tracking.KeyEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		if d.dropped.Add(1) == 1 {
			log.Println("plugin queue full, dropping key events")
		}
		return false
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev tracking.KeyEvent) {
	for _, t := range d.targets(ev.Key) {
		req := NewRequest(ev, t.config)
		if !t.plugin.Supports(req.Action) {
			continue
		}

		resp, err := d.executor.Execute(ctx, t.plugin, req)
		switch {
		case err != nil:
			d.failed.Add(1)
			log.Printf("plugin %s: %v", t.plugin.Manifest.Name, err)
		case !resp.Success:
			d.failed.Add(1)
			log.Printf("plugin %s: %s", t.plugin.Manifest.Name, resp.Error)
		default:
			d.delivered.Add(1)
		}
	}
}

// targets resolves the plugins for key: bound plugins with their config, then
// broadcast plugins that are not already bound.
func (d *Dispatcher) targets(key int) []target {
	var out []target
	seen := make(map[string]bool)

	if d.bindings != nil {
		bindings, err := d.bindings.ListForKey(key)
		if err != nil {
			log.Printf("load plugin bindings: %v", err)
		}
		for _, b := range bindings {
			p, err := d.manager.Get(b.PluginName)
			if err != nil {
				continue
			}
			out = append(out, target{plugin: p, config: b.Config})
			seen[b.PluginName] = true
		}
	}

	for _, name := range d.broadcast {
		if seen[name] {
			continue
		}
		p, err := d.manager.Get(name)
		if err != nil {
			continue
		}
		out = append(out, target{plugin: p})
		seen[name] = true
	}
	return out
}

// Close delivers what is still queued and stops the dispatcher.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}
