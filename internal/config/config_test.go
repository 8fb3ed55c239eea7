package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/keepsake/internal/media"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func noDotEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", noDotEnv(t))
	require.NoError(t, err)

	assert.Equal(t, media.BackendStored, cfg.Backend)
	assert.Equal(t, 400*time.Millisecond, cfg.Timing.Transition)
	assert.Equal(t, 0.2, cfg.Audio.AmbientVolume)
	assert.Equal(t, 0.5, cfg.Audio.TerminalVolume)
	assert.Equal(t, 0.02, cfg.Audio.FadeStep)
	assert.Equal(t, 100*time.Millisecond, cfg.Audio.FadeInterval)
	assert.Equal(t, 8, cfg.Policy.MinGalleryPhotos)
	assert.True(t, cfg.Validate().Valid)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
backend: configured
media:
  ambient_track: /srv/bg.mp3
  terminal_track: /srv/final.mp3
  single_photo: /srv/me.jpg
  gallery_photos: [/srv/1.jpg, /srv/2.jpg]
timing:
  transition: 250ms
audio:
  device: "null"
  fade_interval: 50ms
policy:
  min_gallery_photos: 2
`)
	cfg, err := Load(path, noDotEnv(t))
	require.NoError(t, err)

	assert.Equal(t, media.BackendConfigured, cfg.Backend)
	assert.Equal(t, "/srv/bg.mp3", cfg.Media.AmbientTrack)
	assert.Equal(t, []string{"/srv/1.jpg", "/srv/2.jpg"}, cfg.Media.GalleryPhotos)
	assert.Equal(t, 250*time.Millisecond, cfg.Timing.Transition)
	assert.Equal(t, "null", cfg.Audio.Device)
	assert.Equal(t, 50*time.Millisecond, cfg.Audio.FadeInterval)
	assert.Equal(t, 0.2, cfg.Audio.AmbientVolume, "untouched values keep defaults")
	assert.Equal(t, 2, cfg.Policy.MinGalleryPhotos)

	res := cfg.Validate()
	assert.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), noDotEnv(t))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "backend: [unclosed"), noDotEnv(t))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KEEPSAKE_BACKEND", "configured")
	t.Setenv("KEEPSAKE_MEDIA_GALLERY_PHOTOS", "a.jpg,b.jpg")
	t.Setenv("KEEPSAKE_AUDIO_AMBIENT_VOLUME", "0.3")
	t.Setenv("KEEPSAKE_TIMING_TRANSITION", "1s")

	path := writeFile(t, "config.yaml", "backend: stored\n")
	cfg, err := Load(path, noDotEnv(t))
	require.NoError(t, err)

	assert.Equal(t, media.BackendConfigured, cfg.Backend, "env wins over file")
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, cfg.Media.GalleryPhotos)
	assert.Equal(t, 0.3, cfg.Audio.AmbientVolume)
	assert.Equal(t, time.Second, cfg.Timing.Transition)
}

func TestLoad_DotEnv(t *testing.T) {
	dotenv := writeFile(t, ".env", "KEEPSAKE_SERVER_ADDR=127.0.0.1:9999\nKEEPSAKE_AUDIO_DEVICE=null\n")
	t.Setenv("KEEPSAKE_AUDIO_DEVICE", "exec")
	t.Cleanup(func() { os.Unsetenv("KEEPSAKE_SERVER_ADDR") })

	cfg, err := Load("", dotenv)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, "exec", cfg.Audio.Device, "process environment wins over .env")
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("KEEPSAKE_AUDIO_FADE_STEP", "loud")
	_, err := Load("", noDotEnv(t))
	assert.Error(t, err)
}

type overrides map[string]string

func (o overrides) GetConfig(key string) (string, error) { return o[key], nil }

func TestConfig_SetAndOverrides(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.ApplyOverrides(overrides{
		"audio.player":         "mpv --no-video --volume={volume} {url}",
		"media.gallery_photos": " 1.jpg, ,2.jpg ",
		"audio.fade_interval":  "200ms",
	}))
	assert.Equal(t, []string{"mpv", "--no-video", "--volume={volume}", "{url}"}, cfg.Audio.Player)
	assert.Equal(t, []string{"1.jpg", "2.jpg"}, cfg.Media.GalleryPhotos)
	assert.Equal(t, 200*time.Millisecond, cfg.Audio.FadeInterval)

	assert.ErrorIs(t, cfg.Set("data_dir", "/tmp"), ErrUnknownKey)
	assert.Error(t, cfg.Set("audio.terminal_volume", "max"))
	assert.Error(t, cfg.ApplyOverrides(overrides{"timing.transition": "soon"}))

	for _, k := range Keys() {
		assert.NotErrorIs(t, cfg.Set(k, "1"), ErrUnknownKey, k)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		res := Default().Validate()
		assert.True(t, res.Valid)
		assert.Empty(t, res.Errors)
	})

	t.Run("Unknown backend", func(t *testing.T) {
		cfg := Default()
		cfg.Backend = "cloud"
		res := cfg.Validate()
		assert.False(t, res.Valid)
		assert.Len(t, res.Errors, 1)
	})

	t.Run("Configured without paths", func(t *testing.T) {
		cfg := Default()
		cfg.Backend = media.BackendConfigured
		assert.False(t, cfg.Validate().Valid)
	})

	t.Run("Configured with gaps", func(t *testing.T) {
		cfg := Default()
		cfg.Backend = media.BackendConfigured
		cfg.Media.AmbientTrack = "bg.mp3"
		res := cfg.Validate()
		assert.True(t, res.Valid)
		assert.Len(t, res.Warnings, 3, "terminal, photo, gallery: %v", res.Warnings)
	})

	t.Run("Bad audio", func(t *testing.T) {
		cfg := Default()
		cfg.Audio.AmbientVolume = 1.5
		cfg.Audio.FadeStep = 0
		cfg.Audio.FadeInterval = 0
		cfg.Audio.Player = []string{"rm", "-rf"}
		res := cfg.Validate()
		assert.False(t, res.Valid)
		assert.Len(t, res.Errors, 4)
	})

	t.Run("Large fade step warns", func(t *testing.T) {
		cfg := Default()
		cfg.Audio.FadeStep = 0.5
		res := cfg.Validate()
		assert.True(t, res.Valid)
		assert.Len(t, res.Warnings, 1)
	})

	t.Run("Bad device and timing", func(t *testing.T) {
		cfg := Default()
		cfg.Audio.Device = "speaker"
		cfg.Timing.Transition = 0
		res := cfg.Validate()
		assert.False(t, res.Valid)
		assert.Len(t, res.Errors, 2)
	})
}
