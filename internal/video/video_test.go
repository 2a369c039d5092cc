package video

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/gifloop/internal/apperr"
)

const bannerPlain = `Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'clip.mp4':
  Duration: 00:01:02.50, start: 0.000000, bitrate: 1205 kb/s
    Stream #0:0(und): Video: h264 (High) (avc1 / 0x31637661), yuv420p, 1280x720, 1070 kb/s, 29.97 fps, 29.97 tbr, 30k tbn, 59.94 tbc (default)
    Stream #0:1(und): Audio: aac (LC) (mp4a / 0x6134706D), 44100 Hz, stereo, fltp, 128 kb/s (default)
At least one output file must be specified`

const bannerAnamorphic = `Input #0, mpeg, from 'dvd.vob':
  Duration: 00:00:10.00, start: 0.280633, bitrate: 5025 kb/s
    Stream #0:0[0x1e0]: Video: mpeg2video (Main), yuv420p(tv), 720x480 [SAR 32:27 DAR 16:9], 25 fps, 25 tbr, 90k tbn, 50 tbc`

const bannerRotated = `Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'phone.mov':
  Duration: 00:00:05.12, start: 0.000000, bitrate: 9000 kb/s
    Stream #0:0(und): Video: h264 (High) (avc1 / 0x31637661), yuv420p, 1920x1080, 8900 kb/s, 30 fps, 30 tbr, 600 tbn, 1200 tbc (default)
    Metadata:
      rotate          : 90
      creation_time   : 2014-03-01T10:00:00.000000Z`

const bannerImage = `Input #0, png_pipe, from 'frame.png':
  Duration: N/A, bitrate: N/A
    Stream #0:0: Video: png, rgba(pc), 400x300, 25 tbr, 25 tbn, 25 tbc`

const bannerNoRate = `Input #0, gif, from 'x.gif':
  Duration: 00:00:02.00, start: 0.000000, bitrate: 120 kb/s
    Stream #0:0: Video: gif, bgra, 200x100`

func TestParseProbe(t *testing.T) {
	tests := []struct {
		name   string
		banner string
		want   Info
	}{
		{"plain", bannerPlain, Info{Width: 1280, Height: 720, Duration: 62500 * time.Millisecond, FPS: 29.97}},
		{"anamorphic", bannerAnamorphic, Info{Width: 853, Height: 480, Duration: 10 * time.Second, FPS: 25}},
		{"rotated", bannerRotated, Info{Width: 1080, Height: 1920, Duration: 5120 * time.Millisecond, FPS: 30, Rotated: true}},
		{"image", bannerImage, Info{Width: 400, Height: 300, FPS: 25}},
		{"no rate", bannerNoRate, Info{Width: 200, Height: 100, Duration: 2 * time.Second, FPS: DefaultFPS}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProbe(tt.banner)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseProbeNoVideo(t *testing.T) {
	_, err := ParseProbe("clip.mp3: Invalid data found when processing input")
	assert.True(t, apperr.IsKind(err, apperr.KindExtraction))
}

func TestFrameRate(t *testing.T) {
	assert.Equal(t, 30, Info{FPS: 29.97}.FrameRate())
	assert.Equal(t, 1, Info{FPS: 0.2}.FrameRate())
}

func TestCheckInput(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "setup.exe")
	require.NoError(t, os.WriteFile(bad, nil, 0644))
	assert.True(t, apperr.IsKind(CheckInput(bad), apperr.KindPrecondition))

	assert.True(t, apperr.IsKind(CheckInput(filepath.Join(dir, "missing.mp4")), apperr.KindIO))

	ok := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(ok, nil, 0644))
	assert.NoError(t, CheckInput(ok))
}

func TestBuildExtractArgs(t *testing.T) {
	args := buildExtractArgs(ExtractOptions{
		Input:    "clip.mp4",
		Start:    90*time.Second + 500*time.Millisecond,
		Duration: 3 * time.Second,
		FPS:      10,
		Dir:      "work/original",
	})
	assert.Equal(t, []string{
		"-v", "verbose", "-sn", "-t", "3.0", "-ss", "00:01:30.500",
		"-i", "clip.mp4", "-r", "10", filepath.Join("work/original", "image%04d.png"),
	}, args)
}

func TestBuildAudioArgs(t *testing.T) {
	args := buildAudioArgs(AudioOptions{
		Input: "song.mp3", Start: 2 * time.Second, Duration: 4200 * time.Millisecond,
		Volume: 0.5, Output: "audio.wav",
	})
	assert.Equal(t, []string{
		"-y", "-v", "verbose", "-ss", "2.000", "-t", "4.2", "-i", "song.mp3",
		"-af", "volume=0.5", "audio.wav",
	}, args)
}

func TestBuildEncodeArgs(t *testing.T) {
	mp4, err := buildEncodeArgs(EncodeOptions{FramesDir: "p", Delay: 8, Format: "mp4", Output: "out.mp4"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-v", "verbose", "-y", "-r", "12.50", "-start_number", "1", "-i", filepath.Join("p", "image%04d.png"),
		"-f", "lavfi", "-i", "aevalsrc=0",
		"-c:v", "libx264", "-crf", "18", "-preset", "slow",
		"-vf", "scale=trunc(in_w/2)*2:trunc(in_h/2)*2,setsar=1:1", "-pix_fmt", "yuv420p",
		"-shortest", "-r", "30", "out.mp4",
	}, mp4)

	webm, err := buildEncodeArgs(EncodeOptions{FramesDir: "p", Delay: 10, Format: "webm", Audio: "a.wav", Output: "out.webm"})
	require.NoError(t, err)
	assert.Contains(t, webm, "libvorbis")
	assert.Contains(t, webm, "libvpx")
	assert.Contains(t, webm, "a.wav")
	assert.NotContains(t, webm, "aevalsrc=0")

	_, err = buildEncodeArgs(EncodeOptions{Format: "avi"})
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))
}
