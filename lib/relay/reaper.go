package relay

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ocmchat/chat-broker/lib/protocol"
	"github.com/ocmchat/chat-broker/lib/registry"
)

// Reaper periodically sweeps the registry for idle members. A room whose
// host has been silent past the inactivity timeout is closed outright; in
// surviving rooms, idle non-host members are evicted with a notice. The
// reaper logs and continues on every failure.
type Reaper struct {
	registry *registry.Registry
	sender   TextSender
	log      *logrus.Logger

	interval time.Duration
	timeout  time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewReaper creates a reaper with the given sweep interval and inactivity
// timeout.
func NewReaper(reg *registry.Registry, sender TextSender, log *logrus.Logger, interval, timeout time.Duration) *Reaper {
	if log == nil {
		log = logrus.New()
	}
	return &Reaper{
		registry: reg,
		sender:   sender,
		log:      log,
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Non-blocking.
func (p *Reaper) Start() {
	p.wg.Add(1)
	go p.run()
}

func (p *Reaper) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			p.sweep(now)
		}
	}
}

// sweep applies one reap cycle and sends the notices for what it removed.
// The registry mutates atomically and returns address snapshots; all sends
// happen here, outside its lock.
func (p *Reaper) sweep(now time.Time) {
	for _, action := range p.registry.Reap(now, p.timeout) {
		if action.Closed {
			p.notify(action.Room, action.Members, protocol.NoticeRoomClosed)
			p.log.WithFields(logrus.Fields{
				"room":    action.Room,
				"members": len(action.Members),
			}).Info("Room closed: host inactive")
			continue
		}

		p.notify(action.Room, action.Members, protocol.NoticeEvicted)
		for _, m := range action.Members {
			p.log.WithFields(logrus.Fields{
				"room": action.Room,
				"user": m.Username,
			}).Info("Member evicted: inactive")
		}
	}
}

// notify sends text to each member with a bound return port.
func (p *Reaper) notify(room string, members []registry.MemberSnapshot, text string) {
	for _, m := range members {
		if !m.Addr.Bound() {
			continue
		}
		if err := p.sender.SendText(m.Addr, text); err != nil {
			p.log.WithFields(logrus.Fields{
				"room": room,
				"ip":   m.Addr.IP,
			}).WithError(err).Warn("Reaper notice send failed")
		}
	}
}

// Stop halts the sweep loop and waits for it to exit. Safe to call
// multiple times.
func (p *Reaper) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	p.wg.Wait()
}
