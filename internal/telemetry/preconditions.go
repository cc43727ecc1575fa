package telemetry

import (
	"fmt"
	"time"
)

const (
	DefaultMinBatteryVolts = 6.5
	DefaultFreshness       = 5 * time.Second
)

// Preconditions is the go/no-go poll before fire: battery above the
// minimum, both igniter pairs showing continuity, and the backing samples
// recent enough to trust.
type Preconditions struct {
	Store           *Store
	MinBatteryVolts float64
	Freshness       time.Duration
}

func (p Preconditions) Check(now time.Time) error {
	battery, ok := p.Store.Latest(ChannelBattery)
	if !ok {
		return fmt.Errorf("no battery telemetry")
	}
	if err := p.fresh(battery, now); err != nil {
		return err
	}
	if battery.Value < p.MinBatteryVolts {
		return fmt.Errorf("battery %.2fV below %.2fV minimum", battery.Value, p.MinBatteryVolts)
	}

	pyro, ok := p.Store.Latest(ChannelPyro)
	if !ok {
		return fmt.Errorf("no pyro telemetry")
	}
	if err := p.fresh(pyro, now); err != nil {
		return err
	}
	pyro12, pyro34 := PyroPairs(pyro.Raw)
	if pyro12 != PyroClosed || pyro34 != PyroClosed {
		return fmt.Errorf("pyro continuity 1+2=%s 3+4=%s", pyro12, pyro34)
	}

	return nil
}

func (p Preconditions) fresh(r Reading, now time.Time) error {
	if p.Freshness <= 0 {
		return nil
	}
	if age := now.Sub(r.ReceivedAt); age > p.Freshness {
		return fmt.Errorf("%s telemetry stale by %s", r.Channel, age.Round(time.Millisecond))
	}

	return nil
}
