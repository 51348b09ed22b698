// internal/config/config.go
package config

import "time"

type Config struct {
	Poller PollerConfig `yaml:"poller"`
}

type PollerConfig struct {
	Channels []ChannelConfig `yaml:"channels"`
	MQTT     *MQTTConfig     `yaml:"mqtt"`
	Metrics  MetricsConfig   `yaml:"metrics"`
}

// ---- CHANNEL ----

type ChannelConfig struct {
	ID         string                  `yaml:"id"`
	Connection ConnectionConfig        `yaml:"connection"`
	Timing     TimingConfig            `yaml:"timing"`
	Devices    map[string]DeviceConfig `yaml:"devices"`
	Tags       []TagConfig             `yaml:"tags"`
}

// ---- TIMING ----

type TimingConfig struct {
	ConnectTimeoutMs    int `yaml:"connect_timeout_ms"`
	RequestTimeoutMs    int `yaml:"request_timeout_ms"`
	RetryAttempts       int `yaml:"retry_attempts"` // total attempts per call
	RetryDelayMs        int `yaml:"retry_delay_ms"`
	InterRequestDelayMs int `yaml:"inter_request_delay_ms"`
	ReconnectIntervalMs int `yaml:"reconnect_interval_ms"`
	ControlDebounceMs   int `yaml:"control_debounce_ms"`
}

func (t TimingConfig) ConnectTimeout() time.Duration    { return ms(t.ConnectTimeoutMs) }
func (t TimingConfig) RequestTimeout() time.Duration    { return ms(t.RequestTimeoutMs) }
func (t TimingConfig) RetryDelay() time.Duration        { return ms(t.RetryDelayMs) }
func (t TimingConfig) InterRequestDelay() time.Duration { return ms(t.InterRequestDelayMs) }
func (t TimingConfig) ReconnectInterval() time.Duration { return ms(t.ReconnectIntervalMs) }
func (t TimingConfig) ControlDebounce() time.Duration   { return ms(t.ControlDebounceMs) }

// ---- DEVICE ----

type DeviceConfig struct {
	SlaveID          uint8              `yaml:"slave_id"`
	OffsetConvention int                `yaml:"offset_convention"` // 0 or -1
	BlockSizes       BlockSizesConfig   `yaml:"block_sizes"`
	Swap             SwapConfig         `yaml:"swap"`
	AutoDemotion     DemotionConfig     `yaml:"auto_demotion"`
	PollOnDemand     PollOnDemandConfig `yaml:"poll_on_demand"`
	Enabled          *bool              `yaml:"enabled"` // nil => enabled
}

// BlockSizesConfig caps one wire request per class.
// Zero means the built-in default for that class.
type BlockSizesConfig struct {
	OutputCoils      int `yaml:"output_coils"`
	InputCoils       int `yaml:"input_coils"`
	InputRegisters   int `yaml:"input_registers"`
	HoldingRegisters int `yaml:"holding_registers"`
	DataBlocks       int `yaml:"data_blocks"` // bytes
}

type SwapConfig struct {
	DWordsIn64Bit bool `yaml:"dwords_in_64bit"`
	WordsIn32Bit  bool `yaml:"words_in_32bit"`
	BytesInWord   bool `yaml:"bytes_in_word"`
	BitsInWord    bool `yaml:"bits_in_word"`
}

type DemotionConfig struct {
	Enabled  bool `yaml:"enabled"`
	Failures int  `yaml:"failures"`
	DelayMs  int  `yaml:"delay_ms"`
}

type PollOnDemandConfig struct {
	Enabled        bool `yaml:"enabled"`
	TriggerOnWrite bool `yaml:"trigger_on_write"`
	DurationMs     int  `yaml:"duration_ms"`
}

// ---- TAG ----

type TagConfig struct {
	ID         string `yaml:"id"`
	Device     string `yaml:"device"`
	Address    string `yaml:"address"`
	Type       string `yaml:"type"`
	Bit        *int   `yaml:"bit"` // alternative to the ".n" address suffix
	StringSize int    `yaml:"string_size"`
	ArraySize  int    `yaml:"array_size"`
	PollMs     int    `yaml:"poll_ms"` // <= 0: unscheduled
	ReadOnly   bool   `yaml:"read_only"`
}

// ---- OUTPUTS ----

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
