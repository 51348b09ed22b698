// internal/config/connection.go
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Mode is the discriminant of a channel's connection variant.
type Mode string

const (
	ModeTCP Mode = "tcp"
	ModeRTU Mode = "rtu"
	ModeS7  Mode = "s7"
)

// ConnectionConfig is a tagged union: exactly the block named by Mode is set.
type ConnectionConfig struct {
	Mode Mode
	TCP  *TCPConfig
	RTU  *RTUConfig
	S7   *S7Config
}

type TCPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type RTUConfig struct {
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	Parity   string `yaml:"parity"` // none | even | odd
	StopBits int    `yaml:"stop_bits"`
	RS485    bool   `yaml:"rs485"`
}

type S7Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Rack int    `yaml:"rack"`
	Slot int    `yaml:"slot"`
}

// UnmarshalYAML decodes only the variant selected by mode.
func (c *ConnectionConfig) UnmarshalYAML(n *yaml.Node) error {
	var raw struct {
		Mode Mode      `yaml:"mode"`
		TCP  yaml.Node `yaml:"tcp"`
		RTU  yaml.Node `yaml:"rtu"`
		S7   yaml.Node `yaml:"s7"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}

	present := map[Mode]*yaml.Node{ModeTCP: &raw.TCP, ModeRTU: &raw.RTU, ModeS7: &raw.S7}
	for m, node := range present {
		if m != raw.Mode && node.Kind != 0 {
			return fmt.Errorf("connection: %q block given for mode %q", m, raw.Mode)
		}
	}

	*c = ConnectionConfig{Mode: raw.Mode}
	switch raw.Mode {
	case ModeTCP:
		c.TCP = &TCPConfig{}
		return decodeBlock(&raw.TCP, c.TCP)
	case ModeRTU:
		c.RTU = &RTUConfig{}
		return decodeBlock(&raw.RTU, c.RTU)
	case ModeS7:
		c.S7 = &S7Config{}
		return decodeBlock(&raw.S7, c.S7)
	case "":
		return fmt.Errorf("connection: mode is required")
	default:
		return fmt.Errorf("connection: unknown mode %q", raw.Mode)
	}
}

func decodeBlock(n *yaml.Node, v any) error {
	if n.Kind == 0 {
		return nil // defaults only
	}
	return n.Decode(v)
}
