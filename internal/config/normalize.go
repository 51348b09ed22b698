// internal/config/normalize.go
package config

const (
	DefaultModbusPort        = 502
	DefaultS7Port            = 102
	DefaultConnectTimeoutMs  = 3000
	DefaultRequestTimeoutMs  = 1000
	DefaultRetryAttempts     = 3
	DefaultRetryDelayMs      = 100
	DefaultReconnectMs       = 5000
	DefaultControlDebounceMs = 250
	DefaultDemotionFailures  = 3
	DefaultDemotionDelayMs   = 10000
	DefaultPollOnDemandMs    = 2000
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	for ci := range cfg.Poller.Channels {
		ch := &cfg.Poller.Channels[ci]

		switch c := ch.Connection; c.Mode {
		case ModeTCP:
			if c.TCP.Port == 0 {
				c.TCP.Port = DefaultModbusPort
			}
		case ModeS7:
			if c.S7.Port == 0 {
				c.S7.Port = DefaultS7Port
			}
		case ModeRTU:
			normalizeRTU(c.RTU)
		}

		t := &ch.Timing
		setDefault(&t.ConnectTimeoutMs, DefaultConnectTimeoutMs)
		setDefault(&t.RequestTimeoutMs, DefaultRequestTimeoutMs)
		setDefault(&t.RetryAttempts, DefaultRetryAttempts)
		setDefault(&t.RetryDelayMs, DefaultRetryDelayMs)
		setDefault(&t.ReconnectIntervalMs, DefaultReconnectMs)
		setDefault(&t.ControlDebounceMs, DefaultControlDebounceMs)

		for id, d := range ch.Devices {
			if d.Enabled == nil {
				on := true
				d.Enabled = &on
			}
			setDefault(&d.AutoDemotion.Failures, DefaultDemotionFailures)
			setDefault(&d.AutoDemotion.DelayMs, DefaultDemotionDelayMs)
			setDefault(&d.PollOnDemand.DurationMs, DefaultPollOnDemandMs)
			ch.Devices[id] = d
		}
	}

	if m := cfg.Poller.MQTT; m != nil {
		if m.TopicPrefix == "" {
			m.TopicPrefix = "fieldbus"
		}
		if m.ClientID == "" {
			m.ClientID = "fieldbus-poller"
		}
	}
}

func normalizeRTU(r *RTUConfig) {
	setDefault(&r.BaudRate, 9600)
	setDefault(&r.DataBits, 8)
	setDefault(&r.StopBits, 1)
	if r.Parity == "" {
		r.Parity = "even"
	}
}

func setDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
