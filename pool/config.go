// SPDX-License-Identifier: MIT

// Package pool loads the studio pool configuration: which named pools exist,
// the slot ids backing each pool, and the resolver tuning for it.
package pool

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openplayout/abresolver/assign"
)

var (
	// ErrUnknownPool classifies a lookup of a pool name the configuration
	// does not define. Use errors.Is(err, ErrUnknownPool).
	ErrUnknownPool = errors.New("unknown pool")
	// ErrInvalidConfig classifies a configuration that parsed but fails
	// validation. Use errors.Is(err, ErrInvalidConfig).
	ErrInvalidConfig = errors.New("invalid pool config")
)

// Defaults applied when a pool omits its tuning values (milliseconds).
const (
	DefaultIdealGapBefore = int64(1000)
	DefaultNowWindow      = int64(2000)
)

// Pool is one named set of interchangeable playback slots.
type Pool struct {
	Name           string
	Slots          []int
	IdealGapBefore int64
	NowWindow      int64
}

// Options returns the resolver tuning for this pool.
func (p Pool) Options() assign.Options {
	return assign.Options{IdealGapBefore: p.IdealGapBefore, NowWindow: p.NowWindow}
}

// Config is the validated pool configuration for one studio.
type Config struct {
	Pools []Pool
}

// Pool looks up a pool by name.
func (c *Config) Pool(name string) (Pool, error) {
	for _, p := range c.Pools {
		if p.Name == name {
			return p, nil
		}
	}
	return Pool{}, fmt.Errorf("%w: %q", ErrUnknownPool, name)
}

type rawConfig struct {
	Pools []rawPool `yaml:"pools"`
}

type rawPool struct {
	Name           string `yaml:"name"`
	Slots          []int  `yaml:"slots"`
	IdealGapBefore *int64 `yaml:"idealGapBefore"`
	NowWindow      *int64 `yaml:"nowWindow"`
}

// Load reads and validates a YAML pool configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pool config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML pool configuration. Unknown fields are
// rejected rather than silently dropped.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw rawConfig
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if len(raw.Pools) == 0 {
		return nil, fmt.Errorf("%w: no pools defined", ErrInvalidConfig)
	}

	cfg := &Config{Pools: make([]Pool, 0, len(raw.Pools))}
	seenNames := make(map[string]bool)
	for _, rp := range raw.Pools {
		if rp.Name == "" {
			return nil, fmt.Errorf("%w: pool with empty name", ErrInvalidConfig)
		}
		if seenNames[rp.Name] {
			return nil, fmt.Errorf("%w: duplicate pool %q", ErrInvalidConfig, rp.Name)
		}
		seenNames[rp.Name] = true

		if len(rp.Slots) == 0 {
			return nil, fmt.Errorf("%w: pool %q has no slots", ErrInvalidConfig, rp.Name)
		}
		seenSlots := make(map[int]bool)
		for _, id := range rp.Slots {
			if seenSlots[id] {
				return nil, fmt.Errorf("%w: pool %q repeats slot %d", ErrInvalidConfig, rp.Name, id)
			}
			seenSlots[id] = true
		}

		p := Pool{
			Name:           rp.Name,
			Slots:          append([]int(nil), rp.Slots...),
			IdealGapBefore: DefaultIdealGapBefore,
			NowWindow:      DefaultNowWindow,
		}
		if rp.IdealGapBefore != nil {
			if *rp.IdealGapBefore < 0 {
				return nil, fmt.Errorf("%w: pool %q has negative idealGapBefore", ErrInvalidConfig, rp.Name)
			}
			p.IdealGapBefore = *rp.IdealGapBefore
		}
		if rp.NowWindow != nil {
			if *rp.NowWindow < 0 {
				return nil, fmt.Errorf("%w: pool %q has negative nowWindow", ErrInvalidConfig, rp.Name)
			}
			p.NowWindow = *rp.NowWindow
		}
		cfg.Pools = append(cfg.Pools, p)
	}
	return cfg, nil
}
