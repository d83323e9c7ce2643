package main

import (
	"context"
	"fmt"
	"io/ioutil"

	yaml "gopkg.in/yaml.v2"

	"github.com/noxide/loam/checkpoint"
	"github.com/noxide/loam/jet"
	"github.com/noxide/loam/noun"
	"github.com/noxide/loam/sio"
)

// Config is loamd's YAML configuration.
type Config struct {
	// Store selects the checkpoint store: "dir" (default) or
	// "bolt".
	Store string `yaml:"store"`

	// Dir is the pier directory (store "dir").
	Dir string `yaml:"dir"`

	// DBFile is the database filename (store "bolt").
	DBFile string `yaml:"db"`

	// Boot is a noun-text file holding the kernel to boot when
	// the store is empty.
	Boot string `yaml:"boot"`

	// PokeAxis is the kernel's event arm.  0 means the default.
	PokeAxis uint64 `yaml:"pokeAxis"`

	// Limit bounds each reduction in operator applications.  0
	// means unbounded.
	Limit int `yaml:"limit"`

	// Memo bounds the memo cache in entries.  0 disables it.
	Memo int `yaml:"memo"`

	// Mode is "production" (default), "verify", or "fallback".
	Mode string `yaml:"mode"`

	// Snapshots is a cron expression scheduling snapshots.  Empty
	// means snapshot only at shutdown.
	Snapshots string `yaml:"snapshots"`

	Jets []JetBinding `yaml:"jets"`

	Stdio bool        `yaml:"stdio"`
	WS    string      `yaml:"ws"`
	MQTT  *MQTTConfig `yaml:"mqtt"`

	Debug bool `yaml:"debug"`
}

// JetBinding names a native and the core it accelerates.
type JetBinding struct {
	Name string `yaml:"name"`

	// Core is noun text for a representative core; the binding
	// keys on its battery.
	Core string `yaml:"core"`

	// Axis of the accelerated arm.  0 means 2.
	Axis uint64 `yaml:"axis"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientId"`
	Sub      string `yaml:"sub"`
	Reply    string `yaml:"reply"`
}

func LoadConfig(filename string) (*Config, error) {
	bs, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	conf := &Config{
		Store: "dir",
		Dir:   "pier",
		Memo:  1024,
		Stdio: true,
	}
	if err := yaml.Unmarshal(bs, conf); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) JetMode() (jet.Mode, error) {
	switch c.Mode {
	case "", "production":
		return jet.Production, nil
	case "verify":
		return jet.Verify, nil
	case "fallback":
		return jet.Fallback, nil
	}
	return 0, fmt.Errorf("unknown jet mode %q", c.Mode)
}

func (c *Config) OpenStore(ctx context.Context, h *noun.Heap) (checkpoint.Store, error) {
	var store checkpoint.Store
	switch c.Store {
	case "", "dir":
		store = checkpoint.NewDir(h, c.Dir)
	case "bolt":
		if c.DBFile == "" {
			return nil, fmt.Errorf("bolt store needs a db filename")
		}
		store = checkpoint.NewBolt(h, c.DBFile)
	case "mem":
		store = checkpoint.NewMem(h)
	default:
		return nil, fmt.Errorf("unknown store %q", c.Store)
	}
	if err := store.Open(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (c *Config) Couplings() ([]sio.Couplings, error) {
	var cs []sio.Couplings
	if c.Stdio {
		cs = append(cs, sio.NewStdio())
	}
	if c.WS != "" {
		cs = append(cs, sio.NewWebSocket(c.WS))
	}
	if c.MQTT != nil {
		m := sio.NewMQTT(c.MQTT.Broker, c.MQTT.Sub, c.MQTT.Reply)
		m.ClientID = c.MQTT.ClientID
		cs = append(cs, m)
	}
	return cs, nil
}
