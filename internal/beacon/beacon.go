// Package beacon queues pages on a cron schedule, such as the network time
// page that keeps pager clocks in sync.
package beacon

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/USA-RedDragon/dapnet-tx/internal/config"
	"github.com/USA-RedDragon/dapnet-tx/internal/pocsag"
	"github.com/lestrrat-go/strftime"
	"github.com/robfig/cron/v3"
)

// Pusher receives beacon pages.
type Pusher interface {
	Push(msg *pocsag.Message)
}

type beacon struct {
	name     string
	typ      pocsag.Type
	address  uint32
	function uint8
	text     *strftime.Strftime
}

type Scheduler struct {
	c       *cron.Cron
	queue   Pusher
	now     func() time.Time
	beacons []*beacon
}

// New registers every beacon with a cron scheduler running in loc. Nothing
// is sent until Start.
func New(beacons []config.Beacon, q Pusher, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		c:     cron.New(cron.WithParser(config.ScheduleParser), cron.WithLocation(loc)),
		queue: q,
		now:   func() time.Time { return time.Now().In(loc) },
	}

	for i := range beacons {
		cfg := &beacons[i]
		typ, err := pocsag.ParseType(cfg.Type)
		if err != nil {
			return nil, fmt.Errorf("beacon %q: %w", cfg.Name, err)
		}
		text, err := strftime.New(cfg.Text)
		if err != nil {
			return nil, fmt.Errorf("beacon %q: invalid text pattern: %w", cfg.Name, err)
		}
		b := &beacon{
			name:     cfg.Name,
			typ:      typ,
			address:  cfg.Address,
			function: cfg.Function,
			text:     text,
		}
		if _, err := s.c.AddFunc(cfg.Schedule, func() { s.send(b) }); err != nil {
			return nil, fmt.Errorf("beacon %q: %w: %w", cfg.Name, config.ErrInvalidBeaconSchedule, err)
		}
		s.beacons = append(s.beacons, b)
	}
	return s, nil
}

func (s *Scheduler) send(b *beacon) {
	text := b.text.FormatString(s.now())
	msg, err := pocsag.NewMessage(b.typ, b.address, b.function, text)
	if err != nil {
		slog.Error("failed to encode beacon", "beacon", b.name, "text", text, "error", err)
		return
	}
	s.queue.Push(msg)
	slog.Info("Beacon queued", "beacon", b.name, "address", b.address, "text", text)
}

func (s *Scheduler) Start() {
	if len(s.beacons) == 0 {
		return
	}
	slog.Info("Starting beacons", "count", len(s.beacons))
	s.c.Start()
}

// Stop halts the schedule and waits for running beacons to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}
