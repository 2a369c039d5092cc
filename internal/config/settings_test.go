package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gifloop.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.conf"), zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, "10", s.Get("rate", "frameRate"))
	assert.Equal(t, 10, s.IntOr("rate", "frameRate", 0))
}

func TestUserFileOverridesDefaults(t *testing.T) {
	path := writeConf(t, "[Rate]\nFrameRate = 24\n[effects]\ncolorTintColor = #ff0000\n")
	s, err := Load(path, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, "24", s.Get("rate", "framerate"))
	assert.Equal(t, "#ff0000", s.Get("effects", "colorTintColor"), "# внутри значения не комментарий")
	assert.Equal(t, "3.0", s.Get("length", "durationSec"))
}

func TestPlatformSectionFallback(t *testing.T) {
	path := writeConf(t, "[paths]\nconvert = /base/convert\n[paths-plan9]\nffmpeg = /plan9/ffmpeg\nconvert = /plan9/convert\n")
	s, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	s.SetPlatform("plan9")

	assert.Equal(t, "/base/convert", s.Get("paths", "convert"), "базовая секция приоритетнее")
	assert.Equal(t, "/plan9/ffmpeg", s.Get("paths", "ffmpeg"))
	assert.True(t, s.Exists("paths", "ffmpeg"))
	assert.False(t, s.Exists("paths", "nothing"))
}

func TestCommentedValueIsEmpty(t *testing.T) {
	path := writeConf(t, "[audio]\npath = ;C:\\music\\song.mp3\n")
	s, err := Load(path, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, "", s.Get("audio", "path"))
}

func TestGetBool(t *testing.T) {
	s := Defaults()
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"false", false},
		{"False", false},
		{"0", false},
		{"true", true},
		{"1", true},
		{"yes", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			s.Set("effects", "sharpen", tt.value)
			assert.Equal(t, tt.want, s.GetBool("effects", "sharpen"))
		})
	}
}

func TestSetReportsChangeAndCounts(t *testing.T) {
	s := Defaults()

	assert.False(t, s.Set("rate", "frameRate", "10"), "значение не изменилось")
	assert.Equal(t, uint64(0), s.Counter("rate", "frameRate"))

	assert.True(t, s.Set("rate", "frameRate", "15"))
	assert.True(t, s.Set("Rate", "FRAMERATE", "20"))
	assert.False(t, s.Set("rate", "frameRate", "20"))
	assert.Equal(t, uint64(2), s.Counter("rate", "frameRate"))

	assert.True(t, s.Set("caption7", "text", "hello"), "новый ключ считается изменением")
}

func TestRevisionMatchesDeps(t *testing.T) {
	s := Defaults()
	extract := []Dep{{Section: "rate", Key: "frameRate"}, {Section: "length"}}
	finalize := []Dep{{Section: "caption*"}, {Section: "effects"}}

	s.Set("length", "startTime", "00:00:05.000")
	s.Set("caption3", "text", "hi")
	s.Set("caption12", "frameEnd", "9")

	assert.Equal(t, uint64(1), s.Revision(extract))
	assert.Equal(t, uint64(2), s.Revision(finalize))

	s.Set("rate", "speedModifier", "3")
	assert.Equal(t, uint64(1), s.Revision(extract), "speedModifier не влияет на извлечение")
}

func TestGetIntTolerance(t *testing.T) {
	s := Defaults()
	s.Set("caption1", "size", "20pt")
	s.Set("length", "durationSec", "abc")

	v, err := s.GetInt("caption1", "size")
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	_, err = s.GetInt("length", "durationSec")
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	s := Defaults()
	s.Set("rate", "frameRate", "33")
	path := filepath.Join(t.TempDir(), "out.conf")
	require.NoError(t, s.Save(path))

	loaded, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "33", loaded.Get("rate", "frameRate"))
}

func TestSectionNames(t *testing.T) {
	s := Defaults()
	s.Set("caption2", "text", "a")
	s.Set("caption5", "text", "b")

	assert.ElementsMatch(t, []string{"captiondefaults", "caption2", "caption5"}, s.SectionNames("caption"))
}
