// Package publish sends key events to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/stereopiano/internal/config"
	"github.com/ayusman/stereopiano/internal/tracking"
)

const (
	// queueSize bounds events waiting for the broker.
	queueSize = 256

	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Stats are publisher counters.
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Errors    uint64 `json:"errors"`
}

// Publisher forwards key events to "<prefix>events" and keeps a retained
// online/offline flag on "<prefix>status". Events are queued; when the queue
// is full new events are dropped so the frame loop never waits on the broker.
type Publisher struct {
	client      client
	eventsTopic string
	statusTopic string
	qos         byte

	mu     sync.RWMutex
	closed bool
	queue  chan tracking.KeyEvent
	wg     sync.WaitGroup

	published atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

// Connect dials the broker described by cfg.
func Connect(cfg config.MQTT) (*Publisher, error) {
	statusTopic := cfg.TopicPrefix + "status"

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30*time.Second).
		SetWill(statusTopic, "offline", cfg.QoS, true)

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("mqtt connection lost: %v", err)
	}

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	p := newPublisher(c, cfg)
	if err := p.wait(c.Publish(statusTopic, cfg.QoS, true, "online")); err != nil {
		log.Printf("mqtt status publish failed: %v", err)
	}
	log.Printf("mqtt connected to %s", cfg.Broker)
	return p, nil
}

func newPublisher(c client, cfg config.MQTT) *Publisher {
	return &Publisher{
		client:      c,
		eventsTopic: cfg.TopicPrefix + "events",
		statusTopic: cfg.TopicPrefix + "status",
		qos:         cfg.QoS,
		queue:       make(chan tracking.KeyEvent, queueSize),
	}
}

// Start publishes queued events until ctx is done or Close is called.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-p.queue:
				if !ok {
					return
				}
				p.send(ev)
			}
		}
	}()
}

// Publish queues ev. It reports false when the queue was full or the
// publisher closed and the event was dropped.
func (p *Publisher) Publish(ev tracking.KeyEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}
	select {
	case p.queue <- ev:
		return true
	default:
		if p.dropped.Add(1) == 1 {
			log.Println("mqtt queue full, dropping key events")
		}
		return false
	}
}

func (p *Publisher) send(ev tracking.KeyEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.errors.Add(1)
		log.Printf("mqtt encode event: %v", err)
		return
	}
	if err := p.wait(p.client.Publish(p.eventsTopic, p.qos, false, payload)); err != nil {
		p.errors.Add(1)
		log.Printf("mqtt publish: %v", err)
		return
	}
	p.published.Add(1)
}

func (p *Publisher) wait(token mqtt.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// Close sends what is still queued, marks the publisher offline and
// disconnects.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	if err := p.wait(p.client.Publish(p.statusTopic, p.qos, true, "offline")); err != nil {
		log.Printf("mqtt status publish failed: %v", err)
	}
	p.client.Disconnect(250)
}

// Stats returns the publisher counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Errors:    p.errors.Load(),
	}
}
