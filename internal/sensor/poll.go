package sensor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// readFunc takes one reading, returning values and an accuracy code
type readFunc func() ([]float32, int, error)

// pollGroup runs one ticker goroutine per registered sensor
type pollGroup struct {
	mu   sync.Mutex
	wg   *conc.WaitGroup
	stop chan struct{}
	now  func() time.Time
}

func newPollGroup(now func() time.Time) *pollGroup {
	if now == nil {
		now = time.Now
	}
	return &pollGroup{now: now}
}

func (g *pollGroup) add(d Descriptor, interval time.Duration, events chan<- Sample, read readFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stop == nil {
		g.stop = make(chan struct{})
		g.wg = conc.NewWaitGroup()
	}
	stop := g.stop

	g.wg.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			values, accuracy, err := read()
			if err != nil {
				slog.Debug("Sensor read failed", "sensor", d.Name, "error", err)
				continue
			}

			sample := Sample{
				TypeName: d.TypeName,
				Time:     g.now(),
				Accuracy: accuracy,
				Values:   values,
			}
			select {
			case events <- sample:
			case <-stop:
				return
			}
		}
	})
}

// stopAll stops every poller and waits for them to exit. A panic in a
// poller is returned as an error.
func (g *pollGroup) stopAll() error {
	g.mu.Lock()
	if g.stop == nil {
		g.mu.Unlock()
		return nil
	}
	close(g.stop)
	wg := g.wg
	g.stop = nil
	g.wg = nil
	g.mu.Unlock()

	if r := wg.WaitAndRecover(); r != nil {
		return fmt.Errorf("sensor poller panicked: %w", r.AsError())
	}
	return nil
}
