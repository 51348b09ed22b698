// internal/control/control.go
package control

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tamzrod/fieldbus-poller/internal/convert"
)

// Name is a control tag leaf, always starting with an underscore.
type Name string

const (
	Enabled          Name = "_Enabled"
	AutoDemotion     Name = "_AutoDemotion"
	DemotionFailures Name = "_DemotionFailures"
	DemotionDelayMs  Name = "_DemotionDelayMs"
	PollOnDemand     Name = "_PollOnDemand"
)

var ErrInvalid = errors.New("control: invalid value")

// Target applies control values to runtime device state.
type Target interface {
	SetEnabled(device string, on bool)
	SetAutoDemotion(device string, on bool)
	SetDemotionFailures(device string, n int)
	SetDemotionDelay(device string, d time.Duration)
	SetPollOnDemand(device string, on bool)
}

// Control is one named runtime switch.
type Control struct {
	Name  Name
	parse func(v any) (any, error)
	apply func(t Target, device string, v any)
}

// Bool builds a control taking a boolean.
func Bool(name Name, apply func(t Target, device string, on bool)) Control {
	return Control{
		Name: name,
		parse: func(v any) (any, error) {
			b, err := convert.Bool(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
			}
			return b, nil
		},
		apply: func(t Target, device string, v any) { apply(t, device, v.(bool)) },
	}
}

// Int builds a control taking an integer no smaller than lo.
func Int(name Name, lo int64, apply func(t Target, device string, n int64)) Control {
	return Control{
		Name: name,
		parse: func(v any) (any, error) {
			n, err := convert.Int(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
			}
			if n < lo {
				return nil, fmt.Errorf("%w: %s: %d is below %d", ErrInvalid, name, n, lo)
			}
			return n, nil
		},
		apply: func(t Target, device string, v any) { apply(t, device, v.(int64)) },
	}
}

// Registry is the set of controls a channel accepts. It is built once and
// read-only afterwards.
type Registry struct {
	controls map[Name]Control
}

func NewRegistry(cs ...Control) *Registry {
	r := &Registry{controls: make(map[Name]Control, len(cs))}
	for _, c := range cs {
		r.controls[c.Name] = c
	}
	return r
}

// Default returns the per-device controls every channel carries.
func Default() *Registry {
	return NewRegistry(
		Bool(Enabled, Target.SetEnabled),
		Bool(AutoDemotion, Target.SetAutoDemotion),
		Int(DemotionFailures, 1, func(t Target, dev string, n int64) {
			t.SetDemotionFailures(dev, int(n))
		}),
		Int(DemotionDelayMs, 0, func(t Target, dev string, n int64) {
			t.SetDemotionDelay(dev, time.Duration(n)*time.Millisecond)
		}),
		Bool(PollOnDemand, Target.SetPollOnDemand),
	)
}

func (r *Registry) Lookup(n Name) (Control, bool) {
	c, ok := r.controls[n]
	return c, ok
}

// Parse splits a control tag id of the form <device>.<name>.
func (r *Registry) Parse(tag string) (device string, c Control, ok bool) {
	i := strings.LastIndexByte(tag, '.')
	if i <= 0 {
		return "", Control{}, false
	}
	c, ok = r.controls[Name(tag[i+1:])]
	if !ok {
		return "", Control{}, false
	}
	return tag[:i], c, true
}

func (r *Registry) Names() []Name {
	out := make([]Name, 0, len(r.controls))
	for n := range r.controls {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
