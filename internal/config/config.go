// Package config loads keepsake settings.
//
// Values are layered: built-in defaults, the YAML file, overrides saved with
// `keepsake config set`, a .env file, and finally KEEPSAKE_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/keepsake/internal/audio"
	"github.com/felixgeelhaar/keepsake/internal/guard"
	"github.com/felixgeelhaar/keepsake/internal/media"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KEEPSAKE_"

// ErrUnknownKey is returned by Set for keys that cannot be overridden.
var ErrUnknownKey = errors.New("unknown configuration key")

type Config struct {
	Backend media.Backend `yaml:"backend" env:"BACKEND"`
	DataDir string        `yaml:"data_dir" env:"DATA_DIR"`
	Media   media.Paths   `yaml:"media" envPrefix:"MEDIA_"`
	Timing  Timing        `yaml:"timing" envPrefix:"TIMING_"`
	Audio   Audio         `yaml:"audio" envPrefix:"AUDIO_"`
	Server  Server        `yaml:"server" envPrefix:"SERVER_"`
	Policy  guard.Policy  `yaml:"policy"`
}

type Timing struct {
	Transition time.Duration `yaml:"transition" env:"TRANSITION"`
}

type Audio struct {
	// Device is "null" for silent sessions or "exec" to launch Player.
	Device         string        `yaml:"device" env:"DEVICE"`
	Player         []string      `yaml:"player" env:"PLAYER" envSeparator:" "`
	AmbientVolume  float64       `yaml:"ambient_volume" env:"AMBIENT_VOLUME"`
	TerminalVolume float64       `yaml:"terminal_volume" env:"TERMINAL_VOLUME"`
	FadeStep       float64       `yaml:"fade_step" env:"FADE_STEP"`
	FadeInterval   time.Duration `yaml:"fade_interval" env:"FADE_INTERVAL"`
}

// Server controls the local blob server. An empty Addr disables it.
type Server struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// ValidationResult represents the outcome of a validation pass.
type ValidationResult struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

// DefaultDir is ~/.keepsake, or .keepsake when the home directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".keepsake"
	}
	return filepath.Join(home, ".keepsake")
}

// DefaultPath is the config file looked up when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Backend: media.BackendStored,
		DataDir: DefaultDir(),
		Timing:  Timing{Transition: 400 * time.Millisecond},
		Audio: Audio{
			Device:         "exec",
			Player:         slices.Clone(audio.DefaultPlayerCommand),
			AmbientVolume:  audio.DefaultOptions.AmbientVolume,
			TerminalVolume: audio.DefaultOptions.TerminalVolume,
			FadeStep:       audio.DefaultOptions.FadeStep,
			FadeInterval:   audio.DefaultOptions.FadeInterval,
		},
		Server: Server{Addr: "127.0.0.1:0"},
		Policy: guard.DefaultPolicy,
	}
}

// Load reads the YAML file at path (skipped when empty), then dotenv files
// (".env" when none are given, missing ones ignored), then the environment.
func Load(path string, dotenv ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	}

	if err := loadDotEnv(dotenv); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays KEEPSAKE_* variables. Unset variables leave fields alone.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func loadDotEnv(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	// already-set variables win over the file
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Keys lists the keys accepted by Set, in display order.
func Keys() []string {
	return []string{
		"backend",
		"media.ambient_track",
		"media.terminal_track",
		"media.single_photo",
		"media.gallery_photos",
		"timing.transition",
		"audio.device",
		"audio.player",
		"audio.ambient_volume",
		"audio.terminal_volume",
		"audio.fade_step",
		"audio.fade_interval",
		"server.addr",
	}
}

// Set applies one dotted key. Lists are comma separated, except the player
// command which is split on spaces.
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	case "backend":
		c.Backend = media.Backend(value)
	case "media.ambient_track":
		c.Media.AmbientTrack = value
	case "media.terminal_track":
		c.Media.TerminalTrack = value
	case "media.single_photo":
		c.Media.SinglePhoto = value
	case "media.gallery_photos":
		c.Media.GalleryPhotos = splitList(value, ",")
	case "timing.transition":
		c.Timing.Transition, err = time.ParseDuration(value)
	case "audio.device":
		c.Audio.Device = value
	case "audio.player":
		c.Audio.Player = strings.Fields(value)
	case "audio.ambient_volume":
		c.Audio.AmbientVolume, err = strconv.ParseFloat(value, 64)
	case "audio.terminal_volume":
		c.Audio.TerminalVolume, err = strconv.ParseFloat(value, 64)
	case "audio.fade_step":
		c.Audio.FadeStep, err = strconv.ParseFloat(value, 64)
	case "audio.fade_interval":
		c.Audio.FadeInterval, err = time.ParseDuration(value)
	case "server.addr":
		c.Server.Addr = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

// Overrides is the source of values saved with `keepsake config set`.
type Overrides interface {
	GetConfig(key string) (string, error)
}

// ApplyOverrides applies every saved value. Environment variables still win,
// so callers apply overrides before ApplyEnv.
func (c *Config) ApplyOverrides(o Overrides) error {
	for _, k := range Keys() {
		v, err := o.GetConfig(k)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", k, err)
		}
		if v == "" {
			continue
		}
		if err := c.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

func splitList(v, sep string) []string {
	var out []string
	for _, p := range strings.Split(v, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for completeness and sanity.
func (c *Config) Validate() ValidationResult {
	res := ValidationResult{
		Valid:    true,
		Warnings: []string{},
		Errors:   []string{},
	}
	fail := func(msg string) {
		res.Valid = false
		res.Errors = append(res.Errors, msg)
	}

	switch c.Backend {
	case media.BackendStored:
		if c.DataDir == "" {
			fail("data_dir is required for the stored backend")
		}
	case media.BackendConfigured:
		m := c.Media
		if m.AmbientTrack == "" && m.TerminalTrack == "" && m.SinglePhoto == "" && len(m.GalleryPhotos) == 0 {
			fail("the configured backend needs at least one media path")
			break
		}
		for name, p := range map[string]string{"ambient_track": m.AmbientTrack, "terminal_track": m.TerminalTrack, "single_photo": m.SinglePhoto} {
			if p == "" {
				res.Warnings = append(res.Warnings, "media."+name+" is not set; that part of the story will be skipped")
			}
		}
		if n := len(m.GalleryPhotos); n < c.Policy.MinGalleryPhotos {
			res.Warnings = append(res.Warnings, fmt.Sprintf("media.gallery_photos has %d photos; %d are expected", n, c.Policy.MinGalleryPhotos))
		}
	default:
		fail(fmt.Sprintf("backend must be %q or %q, got %q", media.BackendStored, media.BackendConfigured, c.Backend))
	}

	if c.Timing.Transition <= 0 {
		fail("timing.transition must be positive")
	}

	a := c.Audio
	for name, v := range map[string]float64{"audio.ambient_volume": a.AmbientVolume, "audio.terminal_volume": a.TerminalVolume} {
		if v <= 0 || v > 1 {
			fail(fmt.Sprintf("%s must be in (0, 1], got %g", name, v))
		}
	}
	if a.FadeStep <= 0 {
		fail("audio.fade_step must be positive")
	} else if a.FadeStep > a.AmbientVolume {
		res.Warnings = append(res.Warnings, "audio.fade_step is larger than audio.ambient_volume; the fade will be a single step")
	}
	if a.FadeInterval <= 0 {
		fail("audio.fade_interval must be positive")
	}

	switch a.Device {
	case "null":
	case "exec":
		if len(a.Player) == 0 {
			fail("audio.player is required for the exec device")
		} else if v := guard.New(c.Policy).CheckPlayer(a.Player[0]); v != nil {
			fail(v.Message)
		}
	default:
		fail(fmt.Sprintf("audio.device must be \"null\" or \"exec\", got %q", a.Device))
	}

	slices.Sort(res.Errors)
	slices.Sort(res.Warnings)
	return res
}
