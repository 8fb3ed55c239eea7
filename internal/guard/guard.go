package guard

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy defines what the upload step accepts and which external programs
// may be launched for playback.
type Policy struct {
	AllowedAudioGlobs []string `yaml:"allowed_audio_globs"`
	AllowedImageGlobs []string `yaml:"allowed_image_globs"`
	MinGalleryPhotos  int      `yaml:"min_gallery_photos"`
	MaxGalleryPhotos  int      `yaml:"max_gallery_photos"`
	AllowedPlayers    []string `yaml:"allowed_players"`
}

// DefaultPolicy provides safe defaults.
var DefaultPolicy = Policy{
	AllowedAudioGlobs: []string{"**/*.{mp3,MP3,ogg,OGG,wav,WAV,m4a,M4A,aac,AAC,flac,FLAC}"},
	AllowedImageGlobs: []string{"**/*.{jpg,JPG,jpeg,JPEG,png,PNG,gif,GIF,webp,WEBP,heic,HEIC}"},
	MinGalleryPhotos:  8,
	MaxGalleryPhotos:  9,
	AllowedPlayers:    []string{"ffplay", "mpv", "afplay", "paplay", "mpg123"},
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Message string
	Fatal   bool
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Message)
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckAudioFile verifies an audio upload path against the allowed globs.
func (g *Guard) CheckAudioFile(path string) *Violation {
	if matchAny(g.policy.AllowedAudioGlobs, path) {
		return nil
	}
	return &Violation{Rule: "allowed_audio_globs", Message: "Not an accepted audio file: " + path, Fatal: true}
}

// CheckImageFile verifies an image upload path against the allowed globs.
func (g *Guard) CheckImageFile(path string) *Violation {
	if matchAny(g.policy.AllowedImageGlobs, path) {
		return nil
	}
	return &Violation{Rule: "allowed_image_globs", Message: "Not an accepted image file: " + path, Fatal: true}
}

// CheckGallery verifies the number of gallery photos. Too many is not fatal:
// the caller keeps the first MaxGalleryPhotos.
func (g *Guard) CheckGallery(count int) *Violation {
	if count < g.policy.MinGalleryPhotos {
		return &Violation{
			Rule:    "min_gallery_photos",
			Message: fmt.Sprintf("At least %d gallery photos are required, got %d", g.policy.MinGalleryPhotos, count),
			Fatal:   true,
		}
	}
	if g.policy.MaxGalleryPhotos > 0 && count > g.policy.MaxGalleryPhotos {
		return &Violation{
			Rule:    "max_gallery_photos",
			Message: fmt.Sprintf("Only the first %d gallery photos are kept, got %d", g.policy.MaxGalleryPhotos, count),
		}
	}
	return nil
}

// CheckPlayer verifies an external player command is allowed. Only the
// program name is compared, not its directory.
func (g *Guard) CheckPlayer(cmd string) *Violation {
	name := filepath.Base(strings.TrimSpace(cmd))
	for _, allow := range g.policy.AllowedPlayers {
		if allow == "*" || allow == name {
			return nil
		}
	}
	return &Violation{Rule: "allowed_players", Message: "Player not allowed: " + cmd, Fatal: true}
}

func matchAny(patterns []string, path string) bool {
	clean := strings.TrimPrefix(filepath.ToSlash(path), "/")
	base := filepath.Base(clean)
	for _, pattern := range patterns {
		for _, candidate := range []string{clean, base} {
			match, err := doublestar.Match(pattern, candidate)
			if err == nil && match {
				return true
			}
		}
	}
	return false
}
