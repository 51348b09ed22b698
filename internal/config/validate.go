// internal/config/validate.go
package config

import (
	"errors"
	"fmt"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
//
// Tag addresses and types are checked later, at registration, so that one
// bad tag is reported as a configuration error on that tag instead of
// refusing the whole file.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalid)
	}
	if len(cfg.Poller.Channels) == 0 {
		return fmt.Errorf("%w: no channels defined", ErrInvalid)
	}

	seen := make(map[string]bool)
	for _, ch := range cfg.Poller.Channels {
		if ch.ID == "" {
			return fmt.Errorf("%w: channel without id", ErrInvalid)
		}
		if seen[ch.ID] {
			return fmt.Errorf("%w: duplicate channel id %q", ErrInvalid, ch.ID)
		}
		seen[ch.ID] = true

		if err := validateConnection(ch.Connection); err != nil {
			return fmt.Errorf("%w: channel %q: %v", ErrInvalid, ch.ID, err)
		}
		if err := validateTiming(ch.Timing); err != nil {
			return fmt.Errorf("%w: channel %q: %v", ErrInvalid, ch.ID, err)
		}

		// ------------------------------------------------------------
		// DEVICES
		// ------------------------------------------------------------

		if len(ch.Devices) == 0 {
			return fmt.Errorf("%w: channel %q: no devices defined", ErrInvalid, ch.ID)
		}
		for id, d := range ch.Devices {
			if id == "" {
				return fmt.Errorf("%w: channel %q: device without id", ErrInvalid, ch.ID)
			}
			if err := validateDevice(d); err != nil {
				return fmt.Errorf("%w: channel %q device %q: %v", ErrInvalid, ch.ID, id, err)
			}
		}

		// ------------------------------------------------------------
		// TAGS
		// ------------------------------------------------------------

		tags := make(map[string]bool)
		for i, t := range ch.Tags {
			if t.ID == "" {
				return fmt.Errorf("%w: channel %q: tag #%d without id", ErrInvalid, ch.ID, i)
			}
			if tags[t.ID] {
				return fmt.Errorf("%w: channel %q: duplicate tag id %q", ErrInvalid, ch.ID, t.ID)
			}
			tags[t.ID] = true
		}
	}

	if m := cfg.Poller.MQTT; m != nil {
		if m.Broker == "" {
			return fmt.Errorf("%w: mqtt: broker is required", ErrInvalid)
		}
		if m.QoS > 2 {
			return fmt.Errorf("%w: mqtt: qos %d", ErrInvalid, m.QoS)
		}
	}

	return nil
}

func validateConnection(c ConnectionConfig) error {
	switch c.Mode {
	case ModeTCP:
		if c.TCP == nil || c.TCP.Host == "" {
			return errors.New("tcp: host is required")
		}
		return validPort(c.TCP.Port)
	case ModeS7:
		if c.S7 == nil || c.S7.Host == "" {
			return errors.New("s7: host is required")
		}
		if c.S7.Rack < 0 || c.S7.Slot < 0 {
			return fmt.Errorf("s7: rack %d slot %d", c.S7.Rack, c.S7.Slot)
		}
		return validPort(c.S7.Port)
	case ModeRTU:
		r := c.RTU
		if r == nil || r.Device == "" {
			return errors.New("rtu: device is required")
		}
		if r.BaudRate < 0 {
			return fmt.Errorf("rtu: baud_rate %d", r.BaudRate)
		}
		if r.DataBits != 0 && (r.DataBits < 5 || r.DataBits > 8) {
			return fmt.Errorf("rtu: data_bits %d", r.DataBits)
		}
		if r.StopBits != 0 && r.StopBits != 1 && r.StopBits != 2 {
			return fmt.Errorf("rtu: stop_bits %d", r.StopBits)
		}
		switch r.Parity {
		case "", "none", "even", "odd":
		default:
			return fmt.Errorf("rtu: parity %q", r.Parity)
		}
		return nil
	default:
		return fmt.Errorf("connection mode %q", c.Mode)
	}
}

func validPort(p int) error {
	if p < 0 || p > 65535 {
		return fmt.Errorf("port %d", p)
	}
	return nil
}

func validateTiming(t TimingConfig) error {
	for name, v := range map[string]int{
		"connect_timeout_ms":     t.ConnectTimeoutMs,
		"request_timeout_ms":     t.RequestTimeoutMs,
		"retry_attempts":         t.RetryAttempts,
		"retry_delay_ms":         t.RetryDelayMs,
		"inter_request_delay_ms": t.InterRequestDelayMs,
		"reconnect_interval_ms":  t.ReconnectIntervalMs,
		"control_debounce_ms":    t.ControlDebounceMs,
	} {
		if v < 0 {
			return fmt.Errorf("timing: %s must not be negative", name)
		}
	}
	return nil
}

func validateDevice(d DeviceConfig) error {
	// offset_convention is checked at registration, where it becomes a
	// configuration error on every tag of the device.
	b := d.BlockSizes
	for name, v := range map[string]int{
		"output_coils":      b.OutputCoils,
		"input_coils":       b.InputCoils,
		"input_registers":   b.InputRegisters,
		"holding_registers": b.HoldingRegisters,
		"data_blocks":       b.DataBlocks,
	} {
		if v < 0 {
			return fmt.Errorf("block_sizes: %s must not be negative", name)
		}
	}
	if d.AutoDemotion.Enabled && d.AutoDemotion.Failures < 0 {
		return fmt.Errorf("auto_demotion: failures %d", d.AutoDemotion.Failures)
	}
	if d.AutoDemotion.DelayMs < 0 || d.PollOnDemand.DurationMs < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}
