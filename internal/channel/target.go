// internal/channel/target.go
package channel

import "time"

// controlTarget applies coalesced control updates to the channel's
// runtime device state.
type controlTarget struct{ c *Channel }

func (t controlTarget) SetEnabled(device string, on bool) {
	d, ok := t.c.devices[device]
	if !ok {
		return
	}
	d.SetEnabled(on)
	t.c.tracker.SetEnabled(device, on)
}

func (t controlTarget) SetAutoDemotion(device string, on bool) {
	p := t.c.demotion.Policy(device)
	p.Enabled = on
	t.c.demotion.SetPolicy(device, p)
}

func (t controlTarget) SetDemotionFailures(device string, n int) {
	p := t.c.demotion.Policy(device)
	p.Failures = n
	t.c.demotion.SetPolicy(device, p)
}

func (t controlTarget) SetDemotionDelay(device string, d time.Duration) {
	p := t.c.demotion.Policy(device)
	p.Delay = d
	t.c.demotion.SetPolicy(device, p)
}

func (t controlTarget) SetPollOnDemand(device string, on bool) {
	if d, ok := t.c.devices[device]; ok {
		d.SetPollOnDemand(on)
	}
}
