// Package config describes a whole simulation: the segment network, its trains, and where to serve them.
// Files are JSON, or YAML if their name ends in .yaml or .yml.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
	. "nyiyui.ca/hato/junkan"
	"nyiyui.ca/hato/junkan/clock"
	"nyiyui.ca/hato/junkan/tal"
	"nyiyui.ca/hato/junkan/tal/layout"
)

type Config struct {
	Network Network         `json:"network" yaml:"network"`
	Bounds  tal.Bounds      `json:"bounds" yaml:"bounds"`
	Trains  []tal.TrainConf `json:"trains" yaml:"trains"`
	// TimeScale is how long one simulated second lasts.
	TimeScale Duration `json:"time-scale" yaml:"time-scale"`
	// Kujo is the address to serve the HTTP/SSE interface on. Empty disables it.
	Kujo string `json:"kujo" yaml:"kujo"`
	// Sakuragi is the address to serve the status page on. Empty disables it.
	Sakuragi string `json:"sakuragi" yaml:"sakuragi"`
	// History is how many events are kept for /history.
	History int `json:"history" yaml:"history"`
}

type Network struct {
	Count    int `json:"count" yaml:"count"`
	Distance int `json:"distance" yaml:"distance"`
	// Distances, if not empty, overrides Count and Distance with one distance per segment.
	Distances []int `json:"distances,omitempty" yaml:"distances,omitempty"`
}

// Duration is a time.Duration written as e.g. "500ms".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(data []byte) error {
	d2, err := time.ParseDuration(string(data))
	if err != nil {
		return err
	}
	*d = Duration(d2)
	return nil
}

// Default is the junction layout with its four trains.
func Default() Config {
	trains := make([]tal.TrainConf, len(tal.DefaultTrains))
	copy(trains, tal.DefaultTrains)
	return Config{
		Network: Network{
			Count:    layout.JunctionSegments,
			Distance: layout.JunctionDistance,
		},
		Bounds:    tal.DefaultBounds,
		Trains:    trains,
		TimeScale: Duration(time.Second),
		Kujo:      "127.0.0.1:8001",
		Sakuragi:  "127.0.0.1:8080",
		History:   4096,
	}
}

// Load reads path over Default.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &c)
	default:
		err = json.Unmarshal(data, &c)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// Check validates c without building anything.
func (c Config) Check() error {
	if err := c.Bounds.Check(); err != nil {
		return err
	}
	if c.TimeScale <= 0 {
		return fmt.Errorf("time-scale %s must be positive: %w", time.Duration(c.TimeScale), ErrInvalidConfiguration)
	}
	if c.History < 0 {
		return fmt.Errorf("history %d must not be negative: %w", c.History, ErrInvalidConfiguration)
	}
	if len(c.Trains) == 0 {
		return fmt.Errorf("no trains: %w", ErrInvalidConfiguration)
	}
	for i, t := range c.Trains {
		if !c.Bounds.Contains(t.Velocity) {
			return fmt.Errorf("train %d: velocity %d out of [%d, %d]: %w", i, t.Velocity, c.Bounds.Min, c.Bounds.Max, ErrInvalidConfiguration)
		}
	}
	return nil
}

// NewNetwork builds the segment network c describes.
func (c Config) NewNetwork() (*layout.Network, error) {
	if len(c.Network.Distances) != 0 {
		return layout.NewNetworkDistances(c.Network.Distances)
	}
	return layout.NewNetwork(c.Network.Count, c.Network.Distance)
}

// GuideConf builds everything a tal.Guide needs from c.
// Errors wrap ErrInvalidConfiguration.
func (c Config) GuideConf() (tal.GuideConf, error) {
	if err := c.Check(); err != nil {
		return tal.GuideConf{}, err
	}
	net, err := c.NewNetwork()
	if err != nil {
		return tal.GuideConf{}, err
	}
	return tal.GuideConf{
		Network: net,
		Trains:  c.Trains,
		Bounds:  c.Bounds,
		Clock:   clock.Real{Scale: time.Duration(c.TimeScale)},
	}, nil
}
