// Package magick запускает convert и gifsicle: покадровую обработку,
// сборку GIF, индивидуальные задержки кадров и сжатие.
package magick

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/effects"
	"github.com/ivlev/gifloop/internal/logging"
	"github.com/ivlev/gifloop/internal/system"
	"github.com/ivlev/gifloop/internal/timing"
)

// Job - обработка набора кадров одной цепочкой эффектов. Результат
// пишется в DstDir под тем же именем с расширением png.
type Job struct {
	Label   string
	Sources []string
	DstDir  string
	FPS     int
	// BorderOffset передаётся подписям, чтобы они не заезжали на рамку.
	BorderOffset int
	Chain        effects.Chain
	// Kind - вид ошибки, которым отчитывается стадия.
	Kind apperr.Kind
}

type GIFOptions struct {
	FramesDir string
	Output    string
	Delay     int // сотые доли секунды
	Loops     int // 0 - бесконечно
	// Transparent - прозрачный синемаграф: кадры не оптимизируются
	// слоями, иначе convert съест прозрачность.
	Transparent bool
}

// Processor - то, что движку нужно от convert и gifsicle.
type Processor interface {
	ProcessFrames(ctx context.Context, job Job, progress system.ProgressFunc) error
	AssembleGIF(ctx context.Context, opt GIFOptions, progress system.ProgressFunc) error
	ApplyFrameTimings(ctx context.Context, path string, timings []timing.FrameTiming, progress system.ProgressFunc) error
	Optimize(ctx context.Context, path string, progress system.ProgressFunc) (int64, error)
	Fonts(ctx context.Context) (effects.FontCatalog, error)
}

type Tool struct {
	convert  string
	gifsicle string
	runner   *system.Runner
	workers  int
	log      zerolog.Logger
}

func New(convertPath, gifsiclePath string, runner *system.Runner, workers int, logger zerolog.Logger) *Tool {
	return &Tool{
		convert:  convertPath,
		gifsicle: gifsiclePath,
		runner:   runner,
		workers:  max(1, workers),
		log:      logging.WithComponent(logger, "magick"),
	}
}

// progressGate сводит прогресс параллельных процессов в один вызов
// с общим процентом. Первый отказ останавливает всех.
type progressGate struct {
	mu       sync.Mutex
	progress system.ProgressFunc
	label    string
	done     int
	total    int
	stopped  bool
}

func (g *progressGate) poll(*int, string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return false
	}
	if g.progress == nil {
		return true
	}
	pct := g.done * 100 / max(g.total, 1)
	if !g.progress(&pct, fmt.Sprintf("%d%% %s", pct, g.label)) {
		g.stopped = true
	}
	return !g.stopped
}

func (g *progressGate) finish() {
	g.mu.Lock()
	g.done++
	g.mu.Unlock()
}

// ProcessFrames прогоняет каждый кадр через convert, несколько процессов
// параллельно. Любая ошибка останавливает остальные.
func (t *Tool) ProcessFrames(ctx context.Context, job Job, progress system.ProgressFunc) error {
	if err := os.MkdirAll(job.DstDir, 0755); err != nil {
		return apperr.WrapPath(apperr.KindIO, "process frames", job.DstDir, err)
	}
	gate := &progressGate{progress: progress, label: job.Label, total: len(job.Sources)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for i, src := range job.Sources {
		g.Go(func() error {
			name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + ".png"
			f := effects.Frame{Index: i + 1, Total: len(job.Sources), FPS: job.FPS, BorderOffset: job.BorderOffset}
			args := effects.Command(job.Label, src, filepath.Join(job.DstDir, name), f, job.Chain)

			if _, err := t.runner.Run(gctx, system.Command{Path: t.convert, Args: args}, gate.poll); err != nil {
				return apperr.Recast(job.Kind, job.Label, err)
			}
			gate.finish()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	t.log.Debug().Str("job", job.Label).Int("frames", len(job.Sources)).Msg("Кадры обработаны")
	return nil
}

// AssembleGIF склеивает png из FramesDir в анимацию. Маску файлов
// раскрывает сам convert.
func (t *Tool) AssembleGIF(ctx context.Context, opt GIFOptions, progress system.ProgressFunc) error {
	_, err := t.runner.Run(ctx, system.Command{Path: t.convert, Args: buildGIFArgs(opt)}, progress)
	if err != nil {
		return apperr.Recast(apperr.KindFinalize, "assemble gif", err)
	}
	return nil
}

func buildGIFArgs(opt GIFOptions) []string {
	args := system.CommentArgs("Assembling GIF", -1)
	args = append(args,
		"-delay", strconv.Itoa(opt.Delay),
		"-loop", strconv.Itoa(opt.Loops),
	)
	if opt.Transparent {
		args = append(args, "-alpha", "set", "-dispose", "None")
	} else {
		args = append(args, "-layers", "optimizePlus")
	}
	return append(args, filepath.Join(opt.FramesDir, "*.png"), opt.Output)
}

// ApplyFrameTimings переписывает задержки отдельных кадров готового GIF.
func (t *Tool) ApplyFrameTimings(ctx context.Context, path string, timings []timing.FrameTiming, progress system.ProgressFunc) error {
	if len(timings) == 0 {
		return nil
	}
	_, err := t.runner.Run(ctx, system.Command{Path: t.convert, Args: buildTimingArgs(path, timings)}, progress)
	if err != nil {
		return apperr.Recast(apperr.KindFinalize, "frame timing", err)
	}
	return nil
}

func buildTimingArgs(path string, timings []timing.FrameTiming) []string {
	args := []string{path}
	for _, ft := range timings {
		idx := strconv.Itoa(ft.Index)
		args = append(args,
			"(", "-clone", idx, "-set", "delay", strconv.Itoa(ft.Centiseconds()), ")",
			"-swap", idx+",-1", "+delete")
	}
	return append(args, path)
}

// Optimize сжимает GIF через gifsicle. Без gifsicle ничего не делает.
// Возвращает, на сколько байт уменьшился файл.
func (t *Tool) Optimize(ctx context.Context, path string, progress system.ProgressFunc) (int64, error) {
	if t.gifsicle == "" {
		return 0, nil
	}
	if _, err := os.Stat(t.gifsicle); err != nil {
		t.log.Debug().Str("path", t.gifsicle).Msg("gifsicle не найден, сжатие пропущено")
		return 0, nil
	}
	before := fileSize(path)
	_, err := t.runner.Run(ctx, system.Command{
		Path: t.gifsicle,
		Args: []string{"-O3", "--colors", "256", path, "-o", path},
	}, progress)
	if err != nil {
		return 0, apperr.Recast(apperr.KindFinalize, "optimize gif", err)
	}
	saved := before - fileSize(path)
	t.log.Info().Float64("kb", float64(saved)/1024).Msg("Сжатие GIF")
	return saved, nil
}

// Fonts читает список шрифтов convert.
func (t *Tool) Fonts(ctx context.Context) (effects.FontCatalog, error) {
	res, err := t.runner.Run(ctx, system.Command{
		Path:    t.convert,
		Args:    []string{"-list", "font"},
		Capture: true,
	}, nil)
	if err != nil {
		return nil, err
	}
	cat := effects.ParseFontList(res.Output)
	if len(cat) == 0 {
		return nil, apperr.New(apperr.KindConfig, "fonts", "convert не вернул ни одного шрифта")
	}
	return cat, nil
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
