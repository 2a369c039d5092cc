package engine

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/gifloop/internal/algebra"
	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/config"
	"github.com/ivlev/gifloop/internal/effects"
	"github.com/ivlev/gifloop/internal/frames"
	"github.com/ivlev/gifloop/internal/magick"
	"github.com/ivlev/gifloop/internal/pipeline"
	"github.com/ivlev/gifloop/internal/system"
	"github.com/ivlev/gifloop/internal/timing"
	"github.com/ivlev/gifloop/internal/video"
)

// writeFrame пишет png, цвет которого зависит от n, чтобы кадры не
// считались дублями.
func writeFrame(t testing.TB, path string, n int) {
	img := imaging.New(8, 6, color.NRGBA{R: uint8(n), G: uint8(n >> 8), B: 100, A: 255})
	if err := imaging.Save(img, path); err != nil {
		t.Fatal(err)
	}
}

type fakeTranscoder struct {
	t        testing.TB
	info     video.Info
	extracts []video.ExtractOptions
	audio    []video.AudioOptions
	encodes  []video.EncodeOptions
	// askProgress: спросить progress и вернуть отмену, если он ответил false.
	askProgress bool
}

func (f *fakeTranscoder) Probe(context.Context, string) (video.Info, error) {
	return f.info, nil
}

func (f *fakeTranscoder) ExtractFrames(_ context.Context, opt video.ExtractOptions, progress system.ProgressFunc) error {
	f.extracts = append(f.extracts, opt)
	if f.askProgress && progress != nil && !progress(nil, "frame=1") {
		return apperr.New(apperr.KindCanceled, "ffmpeg", "отменено")
	}
	n := int(opt.Duration.Seconds() * float64(opt.FPS))
	for i := 1; i <= n; i++ {
		writeFrame(f.t, filepath.Join(opt.Dir, frames.Name(i, "png")), i)
	}
	return nil
}

func (f *fakeTranscoder) ExtractAudio(_ context.Context, opt video.AudioOptions, _ system.ProgressFunc) error {
	f.audio = append(f.audio, opt)
	return os.WriteFile(opt.Output, []byte("RIFF"), 0644)
}

func (f *fakeTranscoder) Encode(_ context.Context, opt video.EncodeOptions, _ system.ProgressFunc) error {
	f.encodes = append(f.encodes, opt)
	return os.WriteFile(opt.Output, []byte("video"), 0644)
}

type fakeProcessor struct {
	mu      sync.Mutex
	jobs    []magick.Job
	gifs    []magick.GIFOptions
	timings [][]timing.FrameTiming
	failOn  apperr.Kind
	fail    bool
}

func (f *fakeProcessor) ProcessFrames(_ context.Context, job magick.Job, _ system.ProgressFunc) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	if f.fail && job.Kind == f.failOn {
		// половина кадров успела записаться
		for _, src := range job.Sources[:len(job.Sources)/2] {
			if err := frames.CopyFile(src, filepath.Join(job.DstDir, filepath.Base(src))); err != nil {
				return err
			}
		}
		return apperr.New(job.Kind, job.Label, "convert: no decode delegate")
	}
	for _, src := range job.Sources {
		name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + ".png"
		if err := frames.CopyFile(src, filepath.Join(job.DstDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeProcessor) AssembleGIF(_ context.Context, opt magick.GIFOptions, _ system.ProgressFunc) error {
	f.gifs = append(f.gifs, opt)
	return os.WriteFile(opt.Output, []byte("GIF89a"), 0644)
}

func (f *fakeProcessor) ApplyFrameTimings(_ context.Context, _ string, timings []timing.FrameTiming, _ system.ProgressFunc) error {
	f.timings = append(f.timings, timings)
	return nil
}

func (f *fakeProcessor) Optimize(context.Context, string, system.ProgressFunc) (int64, error) {
	return 0, nil
}

func (f *fakeProcessor) Fonts(context.Context) (effects.FontCatalog, error) {
	return nil, apperr.New(apperr.KindConfig, "fonts", "нет шрифтов")
}

func (f *fakeProcessor) labels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, j := range f.jobs {
		out = append(out, j.Label)
	}
	return out
}

type fixture struct {
	engine   *Engine
	settings *config.Settings
	cfg      *config.Config
	tc       *fakeTranscoder
	proc     *fakeProcessor
	clip     string
}

func newFixture(t *testing.T, output string) *fixture {
	t.Helper()
	dir := t.TempDir()
	s := config.Defaults()
	cfg := &config.Config{
		WorkDir:    filepath.Join(dir, "work"),
		OutputPath: filepath.Join(dir, "out", output),
		Workers:    2,
	}
	tc := &fakeTranscoder{t: t, info: video.Info{Width: 8, Height: 6, Duration: 10 * time.Second, FPS: 10}}
	proc := &fakeProcessor{}

	e, err := New(s, cfg, Tools{Transcoder: tc, Processor: proc}, zerolog.Nop())
	require.NoError(t, err)

	clip := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("not a real video"), 0644))
	return &fixture{engine: e, settings: s, cfg: cfg, tc: tc, proc: proc, clip: clip}
}

func TestNewCreatesStageDirs(t *testing.T) {
	f := newFixture(t, "out.gif")
	for _, d := range []string{DirOriginal, DirResized, DirProcessed, DirDownloads, DirMask} {
		fi, err := os.Stat(filepath.Join(f.cfg.WorkDir, d))
		require.NoError(t, err, d)
		assert.True(t, fi.IsDir())
	}

	_, err := New(config.Defaults(), &config.Config{}, Tools{}, zerolog.Nop())
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))
}

func TestGenerateGIF(t *testing.T) {
	f := newFixture(t, "out.gif")
	f.settings.Set("rate", "customFrameTimingMs", "0:500")
	ctx := context.Background()
	require.NoError(t, f.engine.Open(ctx, f.clip))

	plan, err := f.engine.Plan()
	require.NoError(t, err)
	assert.Equal(t, pipeline.Stages, plan.Stages)
	assert.Nil(t, plan.Conflict)

	res, err := f.engine.Generate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, f.cfg.OutputPath, res.Path)
	assert.Equal(t, 30, res.Frames)
	assert.Equal(t, 10, res.Delay)
	assert.Equal(t, 3*time.Second, res.Runtime)
	assert.Equal(t, int64(len("GIF89a")), res.Size)
	assert.Equal(t, 8, res.Width)
	assert.Len(t, res.Stages, 3)

	assert.Equal(t, []string{effects.LabelGeometry, effects.LabelProcessing}, f.proc.labels())
	require.Len(t, f.proc.gifs, 1)
	assert.Equal(t, 10, f.proc.gifs[0].Delay)
	require.Len(t, f.proc.timings, 1)
	assert.Equal(t, 500*time.Millisecond, f.proc.timings[0][0].Delay)

	require.Len(t, f.tc.extracts, 1)
	assert.Equal(t, 10, f.tc.extracts[0].FPS)

	_, err = os.Stat(filepath.Join(f.cfg.WorkDir, manifestName))
	assert.NoError(t, err)
}

func TestGenerateOnlyRerunsStaleStages(t *testing.T) {
	f := newFixture(t, "out.gif")
	ctx := context.Background()
	require.NoError(t, f.engine.Open(ctx, f.clip))
	_, err := f.engine.Generate(ctx, nil)
	require.NoError(t, err)

	// ничего не менялось
	res, err := f.engine.Generate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, f.cfg.OutputPath, res.Path)
	assert.Len(t, f.proc.jobs, 2)

	f.settings.Set("effects", "brightness", "10")
	res, err = f.engine.Generate(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, f.tc.extracts, 1)
	assert.Equal(t, []string{effects.LabelGeometry, effects.LabelProcessing, effects.LabelProcessing}, f.proc.labels())
	assert.Equal(t, filepath.Join(filepath.Dir(f.cfg.OutputPath), "out001.gif"), res.Path)
}

func TestRunNeedsConflictDecision(t *testing.T) {
	f := newFixture(t, "out.gif")
	ctx := context.Background()
	require.NoError(t, f.engine.Open(ctx, f.clip))
	_, err := f.engine.Generate(ctx, nil)
	require.NoError(t, err)

	// ручная правка кадра и смена частоты
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(f.engine.Sequence().Path(1), future, future))
	f.settings.Set("rate", "frameRate", "12")

	plan, err := f.engine.Plan()
	require.NoError(t, err)
	require.NotNil(t, plan.Conflict)

	err = f.engine.Run(ctx, pipeline.Finalize, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))

	var asked int
	f.engine.Options.ResolveConflict = func(pipeline.Conflict) pipeline.Resolution {
		asked++
		return pipeline.KeepEdits
	}
	require.NoError(t, f.engine.Run(ctx, pipeline.Finalize, nil))
	assert.Equal(t, 1, asked)
	assert.Len(t, f.tc.extracts, 1)
	assert.Equal(t, 30, f.engine.Sequence().Count())
}

func TestStateSurvivesRestart(t *testing.T) {
	f := newFixture(t, "out.gif")
	ctx := context.Background()
	require.NoError(t, f.engine.Open(ctx, f.clip))
	_, err := f.engine.Generate(ctx, nil)
	require.NoError(t, err)

	restart := func() *Engine {
		tc := &fakeTranscoder{t: t, info: f.tc.info}
		e, err := New(config.Defaults(), f.cfg, Tools{Transcoder: tc, Processor: &fakeProcessor{}}, zerolog.Nop())
		require.NoError(t, err)
		require.NoError(t, e.Open(ctx, f.clip))
		return e
	}

	e := restart()
	_, ok := e.Tracker().State(pipeline.Extraction)
	assert.True(t, ok)
	plan, err := e.Plan()
	require.NoError(t, err)
	assert.Empty(t, plan.Stages)

	// правка кадров и новая частота уже в другом процессе
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(e.Sequence().Path(1), future, future))
	e = restart()
	e.settings.Set("rate", "frameRate", "12")
	plan, err = e.Plan()
	require.NoError(t, err)
	assert.NotNil(t, plan.Conflict)
}

func TestRegenerateDiscardsEdits(t *testing.T) {
	f := newFixture(t, "out.gif")
	ctx := context.Background()
	require.NoError(t, f.engine.Open(ctx, f.clip))
	require.NoError(t, f.engine.Run(ctx, pipeline.Extraction, nil))

	_, err := f.engine.DeleteFrames(1, 10, false)
	require.NoError(t, err)
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(f.engine.Sequence().Path(1), future, future))
	f.settings.Set("length", "durationSec", "1.5")

	f.engine.Options.ResolveConflict = func(pipeline.Conflict) pipeline.Resolution { return pipeline.Regenerate }
	require.NoError(t, f.engine.Run(ctx, pipeline.Extraction, nil))
	assert.Len(t, f.tc.extracts, 2)
	assert.Equal(t, 15, f.engine.Sequence().Count())
}

func TestStageFailureResetsStage(t *testing.T) {
	f := newFixture(t, "out.gif")
	f.proc.fail, f.proc.failOn = true, apperr.KindFinalize
	ctx := context.Background()
	require.NoError(t, f.engine.Open(ctx, f.clip))

	_, err := f.engine.Generate(ctx, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindFinalize))

	_, ok := f.engine.Tracker().State(pipeline.Finalize)
	assert.False(t, ok)
	_, ok = f.engine.Tracker().State(pipeline.Geometry)
	assert.True(t, ok)
	assert.True(t, frames.New(filepath.Join(f.cfg.WorkDir, DirProcessed)).Empty())
	_, err = os.Stat(f.cfg.OutputPath)
	assert.True(t, os.IsNotExist(err))
}

func TestProgressStopCancelsStage(t *testing.T) {
	f := newFixture(t, "out.gif")
	f.tc.askProgress = true
	ctx := context.Background()
	require.NoError(t, f.engine.Open(ctx, f.clip))

	_, err := f.engine.Generate(ctx, func(stage pipeline.Stage, _ *int, _ string) bool {
		return stage != pipeline.Extraction
	})
	assert.True(t, apperr.IsKind(err, apperr.KindCanceled))
	_, ok := f.engine.Tracker().State(pipeline.Extraction)
	assert.False(t, ok)

	// следующий запуск флаг отмены сбрасывает
	_, err = f.engine.Generate(ctx, nil)
	assert.NoError(t, err)
}

func TestDeglitchDropsLeadFrames(t *testing.T) {
	f := newFixture(t, "out.gif")
	f.settings.Set("length", "startTime", "00:00:05.000")
	ctx := context.Background()
	require.NoError(t, f.engine.Open(ctx, f.clip))
	require.NoError(t, f.engine.Run(ctx, pipeline.Extraction, nil))

	require.Len(t, f.tc.extracts, 1)
	assert.Equal(t, 3*time.Second, f.tc.extracts[0].Start)
	assert.Equal(t, 5*time.Second, f.tc.extracts[0].Duration)
	assert.Equal(t, 30, f.engine.Sequence().Count())
}

func TestGenerateMP4WithAudio(t *testing.T) {
	f := newFixture(t, "out.mp4")
	song := filepath.Join(t.TempDir(), "song.mp3")
	require.NoError(t, os.WriteFile(song, []byte("ID3"), 0644))
	f.settings.SetBool("audio", "audioEnabled", true)
	f.settings.Set("audio", "path", song)
	f.settings.Set("audio", "startTime", "1.5")
	f.settings.Set("audio", "volume", "50")

	ctx := context.Background()
	require.NoError(t, f.engine.Open(ctx, f.clip))
	res, err := f.engine.Generate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, f.cfg.OutputPath, res.Path)

	require.Len(t, f.tc.audio, 1)
	assert.Equal(t, 1500*time.Millisecond, f.tc.audio[0].Start)
	assert.Equal(t, 3*time.Second, f.tc.audio[0].Duration)
	assert.InDelta(t, 0.5, f.tc.audio[0].Volume, 1e-9)

	require.Len(t, f.tc.encodes, 1)
	assert.Equal(t, "mp4", f.tc.encodes[0].Format)
	assert.Equal(t, f.tc.audio[0].Output, f.tc.encodes[0].Audio)
	assert.Empty(t, f.proc.gifs)
}

func TestGenerateFromImageFolder(t *testing.T) {
	f := newFixture(t, "out.gif")
	dir := t.TempDir()
	for i := 1; i <= 5; i++ {
		writeFrame(t, filepath.Join(dir, fmt.Sprintf("shot_%02d.png", i)), i)
	}
	ctx := context.Background()
	require.NoError(t, f.engine.Open(ctx, dir))

	res, err := f.engine.Generate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Frames)
	assert.Empty(t, f.tc.extracts)
}

func TestAutoCullAfterExtraction(t *testing.T) {
	f := newFixture(t, "out.gif")
	dir := t.TempDir()
	for i := 1; i <= 6; i++ {
		n := i
		if i == 3 || i == 5 {
			n = 1
		}
		writeFrame(t, filepath.Join(dir, fmt.Sprintf("shot_%02d.png", i)), n)
	}
	ctx := context.Background()
	require.NoError(t, f.engine.Open(ctx, dir))
	require.NoError(t, f.engine.Run(ctx, pipeline.Extraction, nil))
	assert.Equal(t, 4, f.engine.Sequence().Count())
}

func TestIdenticalImagesAreDegenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("несколько одинаковых - предупреждение", func(t *testing.T) {
		f := newFixture(t, "out.gif")
		dir := t.TempDir()
		for i := 1; i <= 4; i++ {
			writeFrame(t, filepath.Join(dir, fmt.Sprintf("shot_%02d.png", i)), 7)
		}
		require.NoError(t, f.engine.Open(ctx, dir))
		res, err := f.engine.Generate(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Frames)
		assert.Contains(t, res.Warnings, "Все кадры исходника одинаковые")
	})

	t.Run("больше двадцати одинаковых - ошибка", func(t *testing.T) {
		f := newFixture(t, "out.gif")
		f.settings.SetBool("settings", "autoDeleteDuplicateFrames", false)
		dir := t.TempDir()
		for i := 1; i <= 21; i++ {
			writeFrame(t, filepath.Join(dir, fmt.Sprintf("shot_%02d.png", i)), 7)
		}
		require.NoError(t, f.engine.Open(ctx, dir))
		err := f.engine.Run(ctx, pipeline.Extraction, nil)
		assert.True(t, apperr.IsKind(err, apperr.KindDegenerate))
		assert.True(t, f.engine.Tracker().IsStale(pipeline.Extraction))
	})
}

func TestImportBlankFramesUsesVideoSize(t *testing.T) {
	f := newFixture(t, "out.gif")
	ctx := context.Background()
	require.NoError(t, f.engine.Open(ctx, f.clip))

	res, err := f.engine.Import(ctx, []string{"<black>", "<black>"}, algebra.ImportOptions{At: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	require.Equal(t, 2, f.engine.Sequence().Count())

	first, err := f.engine.Sequence().At(1)
	require.NoError(t, err)
	img, err := imaging.Open(first)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 6, img.Bounds().Dy())
}

func TestFrameOperationsMakeLaterStagesStale(t *testing.T) {
	f := newFixture(t, "out.gif")
	ctx := context.Background()
	require.NoError(t, f.engine.Open(ctx, f.clip))
	_, err := f.engine.Generate(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.Reverse())
	n, err := f.engine.DeleteFrames(1, 10, false)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, 20, f.engine.Sequence().Count())

	plan, err := f.engine.Plan()
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Stage{pipeline.Geometry, pipeline.Finalize}, plan.Stages)
	assert.Nil(t, plan.Conflict)

	_, err = f.engine.DeleteFrames(25, 30, false)
	assert.True(t, apperr.IsKind(err, apperr.KindOutOfRange))

	out := t.TempDir()
	copied, err := f.engine.Export(algebra.ExportOptions{Start: 1, End: 3, Prefix: "frame", Dir: out}, false)
	require.NoError(t, err)
	assert.Equal(t, 3, copied)
}

func TestOpenURLWithoutDownloader(t *testing.T) {
	f := newFixture(t, "out.gif")
	err := f.engine.Open(context.Background(), "https://www.youtube.com/watch?v=x")
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))

	_, err = f.engine.Plan()
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))
}

func TestSetMaskInvalidatesGeometry(t *testing.T) {
	f := newFixture(t, "out.gif")
	ctx := context.Background()
	require.NoError(t, f.engine.Open(ctx, f.clip))
	_, err := f.engine.Generate(ctx, nil)
	require.NoError(t, err)

	mask := filepath.Join(t.TempDir(), "m.png")
	writeFrame(t, mask, 0)
	require.NoError(t, f.engine.SetMask(mask))

	plan, err := f.engine.Plan()
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Stage{pipeline.Geometry, pipeline.Finalize}, plan.Stages)
}

func TestReport(t *testing.T) {
	r := Result{
		Frames: 30,
		Total:  2 * time.Second,
		Stages: map[pipeline.Stage]time.Duration{pipeline.Extraction: time.Second},
	}
	out := r.Report("dev")
	assert.Contains(t, out, "Build: dev")
	assert.Contains(t, out, "Extraction: 1.00s")
	assert.Contains(t, out, "Effective FPS: 15.00")
}
