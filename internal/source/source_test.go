package source

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/frames"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, A: 255})
	require.NoError(t, imaging.Save(img, path))
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "a.png")
	writePNG(t, png, 4, 4)

	pdf := filepath.Join(dir, "doc.bin")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4\n%stub\n"), 0644))

	clip := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("not really a video"), 0644))

	tests := []struct {
		raw  string
		want Kind
	}{
		{"https://www.youtube.com/watch?v=x", KindURL},
		{png, KindImages},
		{pdf, KindPDF},
		{clip, KindVideo},
		{dir, KindImages},
		{`"` + clip + `"`, KindVideo},
	}
	for _, tt := range tests {
		loc, err := Classify(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, loc.Kind, tt.raw)
	}
}

func TestClassifyList(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "b.png")
	b := filepath.Join(dir, "a.png")
	writePNG(t, a, 2, 2)
	writePNG(t, b, 2, 2)

	loc, err := Classify(a + "|" + b)
	require.NoError(t, err)
	assert.Equal(t, KindImages, loc.Kind)
	assert.Equal(t, []string{a, b}, loc.Paths)

	_, err = Classify(a + "|" + filepath.Join(dir, "missing.png"))
	assert.True(t, apperr.IsKind(err, apperr.KindIO))
}

func TestClassifyErrors(t *testing.T) {
	_, err := Classify("  ")
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))

	_, err = Classify(filepath.Join(t.TempDir(), "nope.mp4"))
	assert.True(t, apperr.IsKind(err, apperr.KindIO))

	_, err = Classify(t.TempDir())
	assert.True(t, apperr.IsKind(err, apperr.KindDegenerate))
}

func TestOpenVideoIsPrecondition(t *testing.T) {
	_, err := Locator{Kind: KindVideo, Raw: "clip.mp4"}.Open()
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))
	assert.True(t, Locator{Kind: KindURL}.FromVideo())
	assert.False(t, Locator{Kind: KindPDF}.FromVideo())
}

func TestExtractImageList(t *testing.T) {
	in := t.TempDir()
	paths := []string{
		filepath.Join(in, "1.png"),
		filepath.Join(in, "2.png"),
		filepath.Join(in, "broken.png"),
		filepath.Join(in, "3.png"),
	}
	writePNG(t, paths[0], 8, 6)
	writePNG(t, paths[1], 16, 16)
	require.NoError(t, os.WriteFile(paths[2], []byte("garbage"), 0644))
	writePNG(t, paths[3], 4, 3)

	seq := frames.New(filepath.Join(t.TempDir(), "original"))
	var calls int
	res, err := Extract(context.Background(), NewImageList(paths), seq, ExtractOptions{
		Workers:  1,
		Progress: func(done, total int) { calls++ },
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Frames)
	assert.Equal(t, 1, res.Discrepancies)
	assert.Equal(t, 4, calls)

	for i := 1; i <= 3; i++ {
		f, err := os.Open(seq.Path(i))
		require.NoError(t, err)
		cfg, _, err := image.DecodeConfig(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Width)
		assert.Equal(t, 6, cfg.Height)
	}
}

func TestExtractNothingReadable(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "x.png")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0644))

	seq := frames.New(filepath.Join(t.TempDir(), "original"))
	_, err := Extract(context.Background(), NewImageList([]string{bad}), seq, ExtractOptions{}, zerolog.Nop())
	assert.True(t, apperr.IsKind(err, apperr.KindDegenerate))
}
