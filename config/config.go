// Package config loads the host settings and the patch table from YAML.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/user-none/psgmidi/firmware"
)

// Config is the root of the YAML file.
type Config struct {
	Revision string   `yaml:"revision"`
	Override Override `yaml:"override"`

	MIDI   MIDI   `yaml:"midi"`
	Serial Serial `yaml:"serial"`
	Audio  Audio  `yaml:"audio"`
	Status Status `yaml:"status"`
	Debug  bool   `yaml:"debug"`

	Patches []PatchSpec `yaml:"patches"`
}

// Override replaces individual constants of the selected revision.
// Unset fields keep the profile value.
type Override struct {
	ID              *uint8         `yaml:"id"`
	ClockMultiplier *float64       `yaml:"clock_multiplier"`
	ProtectedWords  *uint32        `yaml:"protected_words"`
	RowDelay        *time.Duration `yaml:"row_delay"`
	TickPeriod      *time.Duration `yaml:"tick_period"`
	Filter          *bool          `yaml:"filter"`
	Stereo          *bool          `yaml:"stereo"`
	VendorID        []byte         `yaml:"vendor_id,flow"`
}

// MIDI selects host MIDI ports by name fragment.
type MIDI struct {
	In      string `yaml:"in"`
	Out     string `yaml:"out"`
	Virtual bool   `yaml:"virtual"`
}

// Serial selects a DIN MIDI serial device.
type Serial struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// Audio controls host playback of the simulated board.
type Audio struct {
	Enabled bool    `yaml:"enabled"`
	Volume  float64 `yaml:"volume"`
}

// Status configures the HTTP status endpoint. An empty address disables it.
type Status struct {
	Addr string `yaml:"addr"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Revision: firmware.DefaultRevision().Name,
		MIDI:     MIDI{In: "psgmidi", Virtual: true},
		Serial:   Serial{Baud: 31250},
		Audio:    Audio{Enabled: true, Volume: 0.5},
		Status:   Status{Addr: "127.0.0.1:7474"},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	cfg, err := Parse(data)
	return cfg, errors.Wrapf(err, "config %s", path)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse yaml")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every setting that can be checked without hardware.
func (c *Config) Validate() error {
	if _, err := c.BoardRevision(); err != nil {
		return err
	}
	if c.Audio.Volume < 0 || c.Audio.Volume > 1 {
		return errors.Errorf("audio volume %v outside 0..1", c.Audio.Volume)
	}
	if c.Serial.Baud < 0 {
		return errors.Errorf("serial baud %d is negative", c.Serial.Baud)
	}
	_, err := c.Bank()
	return err
}

// BoardRevision returns the selected profile with overrides applied.
func (c *Config) BoardRevision() (firmware.Revision, error) {
	rev, ok := firmware.LookupRevision(c.Revision)
	if !ok {
		names := make([]string, 0, 3)
		for _, r := range firmware.Revisions() {
			names = append(names, r.Name)
		}
		return firmware.Revision{}, errors.Errorf("unknown revision %q (have %s)", c.Revision, strings.Join(names, ", "))
	}

	o := c.Override
	if o.ID != nil {
		rev.ID = *o.ID
	}
	if o.ClockMultiplier != nil {
		if *o.ClockMultiplier <= 0 {
			return firmware.Revision{}, errors.New("clock_multiplier must be positive")
		}
		rev.ClockMultiplier = *o.ClockMultiplier
	}
	if o.ProtectedWords != nil {
		if int(*o.ProtectedWords) > rev.FlashWords {
			return firmware.Revision{}, errors.Errorf("protected_words %#x beyond flash size %#x", *o.ProtectedWords, rev.FlashWords)
		}
		rev.ProtectedWords = *o.ProtectedWords
	}
	if o.RowDelay != nil {
		if *o.RowDelay < 0 {
			return firmware.Revision{}, errors.New("row_delay must not be negative")
		}
		rev.RowDelay = *o.RowDelay
	}
	if o.TickPeriod != nil {
		if *o.TickPeriod <= 0 {
			return firmware.Revision{}, errors.New("tick_period must be positive")
		}
		rev.TickPeriod = *o.TickPeriod
	}
	if o.Filter != nil {
		rev.Filter = *o.Filter
	}
	if o.Stereo != nil {
		rev.Stereo = *o.Stereo
	}
	if o.VendorID != nil {
		if len(o.VendorID) != 3 {
			return firmware.Revision{}, errors.Errorf("vendor_id needs 3 bytes, got %d", len(o.VendorID))
		}
		for _, b := range o.VendorID {
			if b >= 0x80 {
				return firmware.Revision{}, errors.Errorf("vendor_id byte %#x is not a MIDI data byte", b)
			}
		}
		copy(rev.VendorID[:], o.VendorID)
	}
	return rev, nil
}

// Bank returns the default patch table with the configured patches
// installed over it.
func (c *Config) Bank() (*firmware.Bank, error) {
	bank := firmware.DefaultBank()
	for i := range c.Patches {
		p, err := c.Patches[i].Patch()
		if err != nil {
			return nil, errors.Wrapf(err, "patch %d", i)
		}
		bank[c.Patches[i].Program] = p
	}
	return bank, nil
}
