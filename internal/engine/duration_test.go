package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/config"
	"github.com/ivlev/gifloop/internal/video"
)

func noRand(int64) int64 { return 0 }

func TestExtractionWindow(t *testing.T) {
	info := video.Info{Width: 640, Height: 360, Duration: time.Minute, FPS: 25}

	tests := []struct {
		name   string
		start  string
		dur    string
		glitch bool
		want   window
	}{
		{"from zero", "00:00:00.000", "3.0", true, window{Duration: 3 * time.Second, FPS: 10}},
		{"short lead kept", "00:00:01.500", "3.0", true, window{Start: 1500 * time.Millisecond, Duration: 3 * time.Second, FPS: 10}},
		{"deglitch", "00:00:05.000", "3.0", true, window{Start: 3 * time.Second, Duration: 5 * time.Second, FPS: 10, Skip: 20}},
		{"deglitch off", "00:00:05.000", "3.0", false, window{Start: 5 * time.Second, Duration: 3 * time.Second, FPS: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := config.Defaults()
			s.Set("length", "startTime", tt.start)
			s.Set("length", "durationSec", tt.dur)
			s.SetBool("settings", "fixSlowdownGlitch", tt.glitch)

			w, err := extractionWindow(s, info, noRand)
			require.NoError(t, err)
			assert.Equal(t, tt.want, w)
		})
	}
}

func TestExtractionWindowRandomStart(t *testing.T) {
	s := config.Defaults()
	s.Set("length", "startTime", "random")
	s.SetBool("settings", "fixSlowdownGlitch", false)

	var span int64
	w, err := extractionWindow(s, video.Info{Duration: 10 * time.Second}, func(n int64) int64 {
		span = n
		return n / 2
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7*time.Second), span)
	assert.Equal(t, 3500*time.Millisecond, w.Start)

	// видео короче окна - с начала
	w, err = extractionWindow(s, video.Info{Duration: 2 * time.Second}, func(int64) int64 {
		t.Fatal("random should not be used")
		return 0
	})
	require.NoError(t, err)
	assert.Zero(t, w.Start)
}

func TestExtractionWindowLimits(t *testing.T) {
	s := config.Defaults()
	s.Set("length", "durationSec", "1000")
	_, err := extractionWindow(s, video.Info{}, noRand)
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))

	s = config.Defaults()
	s.Set("length", "durationSec", "0")
	_, err = extractionWindow(s, video.Info{}, noRand)
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))

	s = config.Defaults()
	s.Set("length", "startTime", "00:02:00.000")
	_, err = extractionWindow(s, video.Info{Duration: time.Minute}, noRand)
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))

	s = config.Defaults()
	s.Set("rate", "frameRate", "120")
	w, err := extractionWindow(s, video.Info{}, noRand)
	require.NoError(t, err)
	assert.Equal(t, 50, w.FPS)
}
