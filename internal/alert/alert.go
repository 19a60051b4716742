// Package alert raises caregiver alerts: it keeps a bounded feed for the
// dashboard and fans each alert out to the configured delivery channels.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"medminder/pkg/models"
)

const defaultFeedSize = 50

// Publisher receives every alert synchronously, e.g. the dashboard hub.
type Publisher interface {
	BroadcastAlert(a models.Alert)
}

// Channel delivers an alert out of process (push, email).
type Channel interface {
	Name() string
	Deliver(ctx context.Context, a models.Alert) error
}

type Dispatcher struct {
	mu       sync.RWMutex
	feed     []models.Alert
	feedSize int

	publishers []Publisher
	channels   []Channel
	timeout    time.Duration
	inflight   sync.WaitGroup

	now func() time.Time
	log *slog.Logger
}

type Config struct {
	FeedSize        int
	DeliveryTimeout time.Duration
}

func NewDispatcher(cfg Config, log *slog.Logger) *Dispatcher {
	if cfg.FeedSize <= 0 {
		cfg.FeedSize = defaultFeedSize
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		feedSize: cfg.FeedSize,
		timeout:  cfg.DeliveryTimeout,
		now:      time.Now,
		log:      log,
	}
}

func (d *Dispatcher) AddPublisher(p Publisher) { d.publishers = append(d.publishers, p) }

func (d *Dispatcher) AddChannel(c Channel) {
	d.channels = append(d.channels, c)
	d.log.Info("🔔 alert channel enabled", "channel", c.Name())
}

// SendAlert records and broadcasts an alert, then hands it to every channel
// in the background. It never fails: delivery problems are logged only.
func (d *Dispatcher) SendAlert(ctx context.Context, patientName, reason string) models.Alert {
	a := models.Alert{
		ID:          uuid.NewString(),
		PatientName: patientName,
		Reason:      reason,
		Message:     fmt.Sprintf("ALERT: %s - %s", patientName, reason),
		Timestamp:   d.now(),
	}

	d.mu.Lock()
	d.feed = append(d.feed, a)
	if over := len(d.feed) - d.feedSize; over > 0 {
		d.feed = append([]models.Alert(nil), d.feed[over:]...)
	}
	d.mu.Unlock()

	d.log.Warn("🚨 "+a.Message, "alert_id", a.ID)

	for _, p := range d.publishers {
		p.BroadcastAlert(a)
	}

	// Deliveries outlive the cycle that raised the alert.
	base := context.WithoutCancel(ctx)
	for _, ch := range d.channels {
		d.inflight.Add(1)
		go func(ch Channel) {
			defer d.inflight.Done()
			dctx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()
			if err := ch.Deliver(dctx, a); err != nil {
				d.log.Error("❌ alert delivery failed", "channel", ch.Name(), "alert_id", a.ID, "err", err)
				return
			}
			d.log.Info("📨 alert delivered", "channel", ch.Name(), "alert_id", a.ID)
		}(ch)
	}
	return a
}

// Recent returns the feed, newest last.
func (d *Dispatcher) Recent() []models.Alert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]models.Alert(nil), d.feed...)
}

// Wait blocks until all in-flight deliveries have returned.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
