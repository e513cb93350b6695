package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/hearth/internal/audit"
	"github.com/nugget/hearth/internal/config"
)

// queueSize bounds events buffered while the broker is unreachable.
// Older events are dropped first once it fills.
const queueSize = 256

// StatsSource provides the status snapshot. The concrete adapter lives
// in the app package so this package stays free of agent wiring.
type StatsSource interface {
	Uptime() time.Duration
	Version() string
	ActiveProvider() string
	ActiveModel() string
	VaultUnlocked() bool
	ThreadCount() int
}

// Status is the retained status payload.
type Status struct {
	Version       string `json:"version"`
	Uptime        string `json:"uptime"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	VaultUnlocked bool   `json:"vault_unlocked"`
	Threads       int    `json:"threads"`
	Dropped       int64  `json:"dropped_events"`
	Time          string `json:"time"`
}

// Publisher implements [audit.Sink] by forwarding events to a broker.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	stats      StatsSource
	logger     *slog.Logger

	queue   chan audit.Event
	dropped atomic.Int64
	cm      *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Events published before
// [Publisher.Start] are queued.
func New(cfg config.MQTTConfig, instanceID string, stats StatsSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		stats:      stats,
		logger:     logger.With("component", "mqtt"),
		queue:      make(chan audit.Event, queueSize),
	}
}

// Publish queues an event without blocking. When the queue is full the
// oldest queued event is discarded.
func (p *Publisher) Publish(e audit.Event) {
	for {
		select {
		case p.queue <- e:
			return
		default:
		}
		select {
		case <-p.queue:
			p.dropped.Add(1)
		default:
		}
	}
}

// Dropped returns how many events were discarded for lack of room.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Start connects to the broker and forwards events until ctx is
// cancelled. On every (re-)connect it publishes the birth message.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID(p.instanceID),
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

func (p *Publisher) baseTopic() string {
	return "hearth/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) auditTopic() string {
	return p.baseTopic() + "/audit"
}

func (p *Publisher) statusTopic() string {
	return p.baseTopic() + "/status"
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

func (p *Publisher) runLoop(ctx context.Context) {
	interval := p.cfg.StatusInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.publishStatus(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-p.queue:
			p.publishEvent(ctx, e)
		case <-ticker.C:
			p.publishStatus(ctx)
		}
	}
}

func (p *Publisher) publishEvent(ctx context.Context, e audit.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("mqtt marshal audit event", "id", e.ID, "error", err)
		return
	}
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.auditTopic(),
		Payload: payload,
		QoS:     0,
	}); err != nil {
		p.logger.Debug("mqtt audit publish failed", "id", e.ID, "error", err)
	}
}

func (p *Publisher) snapshot() Status {
	s := Status{
		Dropped: p.dropped.Load(),
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if p.stats != nil {
		s.Version = p.stats.Version()
		s.Uptime = p.stats.Uptime().Truncate(time.Second).String()
		s.Provider = p.stats.ActiveProvider()
		s.Model = p.stats.ActiveModel()
		s.VaultUnlocked = p.stats.VaultUnlocked()
		s.Threads = p.stats.ThreadCount()
	}
	return s
}

func (p *Publisher) publishStatus(ctx context.Context) {
	if p.cm == nil {
		return
	}
	payload, err := json.Marshal(p.snapshot())
	if err != nil {
		p.logger.Error("mqtt marshal status", "error", err)
		return
	}
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.statusTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		p.logger.Debug("mqtt status publish failed", "error", err)
	}
}
