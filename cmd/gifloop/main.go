package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/config"
	"github.com/ivlev/gifloop/internal/download"
	"github.com/ivlev/gifloop/internal/engine"
	"github.com/ivlev/gifloop/internal/logging"
	"github.com/ivlev/gifloop/internal/magick"
	"github.com/ivlev/gifloop/internal/pipeline"
	"github.com/ivlev/gifloop/internal/system"
	"github.com/ivlev/gifloop/internal/video"
)

// version подставляется при сборке: -ldflags "-X main.version=..."
var version = "dev"

var command = &cli.Command{
	Name:      "gifloop",
	Usage:     "Делает зацикленный GIF (или mp4/webm) из видео, ссылки, папки с картинками или PDF",
	ArgsUsage: "[исходник]",
	Version:   version,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Файл настроек (INI)",
			Value:   defaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Путь результата, расширение задаёт формат: .gif, .mp4, .webm",
		},
		&cli.StringFlag{
			Name:  "workdir",
			Usage: "Рабочая папка для кадров",
		},
		&cli.StringFlag{
			Name:  "start",
			Usage: "Начало фрагмента HH:MM:SS.mmm или random",
		},
		&cli.FloatFlag{
			Name:  "duration",
			Usage: "Длительность фрагмента в секундах",
		},
		&cli.IntFlag{
			Name:  "fps",
			Usage: "Частота кадров",
		},
		&cli.StringFlag{
			Name:  "size",
			Usage: "Итоговый размер WxH",
		},
		&cli.StringFlag{
			Name:  "quality",
			Usage: "Качество скачивания: None, Low, Medium, High, Highest",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Число параллельных процессов (0 - по числу ядер и памяти)",
		},
		&cli.BoolFlag{
			Name:  "overwrite",
			Usage: "Перезаписывать существующий результат",
		},
		&cli.BoolFlag{
			Name:  "keep-edits",
			Usage: "Если кадры правили вручную, не извлекать их заново",
		},
		&cli.BoolFlag{
			Name:  "save",
			Usage: "Сохранить настройки с учётом флагов обратно в файл",
		},
		&cli.BoolFlag{
			Name:  "stats",
			Usage: "Показать отчёт о производительности и дописать benchmark.log",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Писать журнал событий в файл",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Подробный лог",
		},
	},
	Action: action,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[-] Ошибка: %v\n", err)
		if apperr.IsKind(err, apperr.KindCanceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "gifloop.conf"
	}
	return filepath.Join(dir, "gifloop", "gifloop.conf")
}

func action(ctx context.Context, c *cli.Command) error {
	logging.Init(c.Bool("verbose"))
	if path := c.String("log-file"); path != "" {
		fileLogger, closer, err := logging.NewFileLogger(path)
		if err != nil {
			return apperr.WrapPath(apperr.KindConfig, "log file", path, err)
		}
		defer closer.Close()
		log.Logger = fileLogger
	}
	logger := log.Logger
	system.InitResourceLimits(logger)

	settings, err := config.Load(c.String("config"), logger)
	if err != nil {
		return err
	}
	applyFlags(c, settings)
	if c.Bool("verbose") {
		settings.Dump()
	}
	if c.Bool("save") {
		if err := settings.Save(c.String("config")); err != nil {
			return err
		}
	}

	cfg := config.FromSettings(settings)
	cfg.BuildVersion = version
	cfg.ShowStats = c.Bool("stats")
	if c.IsSet("output") {
		cfg.OutputPath = c.String("output")
	}
	if c.IsSet("workdir") {
		cfg.WorkDir = c.String("workdir")
		cfg.SessionWorkDir = false
	}
	if c.IsSet("overwrite") {
		cfg.Overwrite = c.Bool("overwrite")
	}
	cfg.Workers = system.Workers()
	if n := c.Int("workers"); n > 0 {
		cfg.Workers = n
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if settings.GetBool("settings", "deleteTempFilesOnClose") && cfg.SessionWorkDir {
		defer os.RemoveAll(cfg.WorkDir)
	}

	src := c.Args().First()
	if src == "" {
		latest, err := system.FindLatestVideo("input")
		if err != nil {
			return apperr.Wrap(apperr.KindConfig, "source", fmt.Errorf("%w. Укажите исходник или положите видео в input/", err))
		}
		src = latest
		fmt.Printf("[*] Выбран файл: %s\n", src)
	}

	runner := system.NewRunner(logger)
	tools := engine.Tools{
		Transcoder: video.NewFFmpeg(cfg.FFmpegPath, runner, logger),
		Processor:  magick.New(cfg.ConvertPath, cfg.GifsiclePath, runner, cfg.Workers, logger),
		Runner:     runner,
	}
	if cfg.DownloaderPath != "" {
		tools.Downloader = download.New(cfg.DownloaderPath, filepath.Join(cfg.WorkDir, engine.DirDownloads), runner, logger)
	}

	eng, err := engine.New(settings, cfg, tools, logger)
	if err != nil {
		return err
	}
	keep := c.Bool("keep-edits")
	eng.Options.ResolveConflict = func(pipeline.Conflict) pipeline.Resolution {
		if keep {
			fmt.Println("[!] Кадры правили вручную, извлечение пропущено (--keep-edits)")
			return pipeline.KeepEdits
		}
		fmt.Println("[!] Кадры правили вручную, они будут извлечены заново")
		return pipeline.Regenerate
	}

	go func() {
		<-ctx.Done()
		eng.Cancel()
	}()

	fmt.Printf("[*] Открываем %s\n", src)
	if err := eng.Open(ctx, src); err != nil {
		return err
	}
	if info := eng.Info(); info.Width > 0 {
		fmt.Printf("[*] Видео %dx%d, %.2f fps, %s\n", info.Width, info.Height, info.FPS, info.Duration)
	}

	bars := newStageBars()
	res, err := eng.Generate(ctx, bars.progress)
	bars.finish(err == nil)
	if err != nil {
		return err
	}

	fmt.Printf("[+++] Готово: %s (%.1f КБ, %d кадров, %s)\n", res.Path, float64(res.Size)/1024, res.Frames, res.Runtime)
	for _, w := range res.Warnings {
		fmt.Printf("[!] %s\n", w)
	}
	if cfg.ShowStats {
		fmt.Print(res.Report(version))
	}
	return nil
}

// applyFlags переносит флаги в настройки, чтобы трекер стадий увидел изменения.
func applyFlags(c *cli.Command, s *config.Settings) {
	if c.IsSet("start") {
		s.Set("length", "startTime", c.String("start"))
	}
	if c.IsSet("duration") {
		s.Set("length", "durationSec", fmt.Sprintf("%.3f", c.Float("duration")))
	}
	if c.IsSet("fps") {
		s.SetInt("rate", "frameRate", c.Int("fps"))
	}
	if c.IsSet("size") {
		s.Set("size", "resizePostCrop", c.String("size"))
	}
	if c.IsSet("quality") {
		s.Set("settings", "downloadQuality", string(download.Quality(c.String("quality"))))
	}
}

// stageBars рисует по полосе на стадию и ставит [OK] по её окончании.
type stageBars struct {
	bar     *progressbar.ProgressBar
	current pipeline.Stage
	started bool
}

func newStageBars() *stageBars {
	return &stageBars{}
}

func (b *stageBars) progress(stage pipeline.Stage, percent *int, status string) bool {
	if !b.started || stage != b.current {
		b.finish(true)
		b.current, b.started = stage, true
		b.bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(os.Stdout),
			progressbar.OptionSetDescription(stage.Title()),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "█",
				SaucerHead:    "█",
				SaucerPadding: "░",
				BarStart:      "▐",
				BarEnd:        "▌",
			}),
			progressbar.OptionSetWidth(50),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
	if percent != nil {
		_ = b.bar.Set(max(0, min(100, *percent)))
	} else if status != "" {
		b.bar.Describe(stage.Title() + ": " + strings.TrimSpace(status))
	}
	return true
}

func (b *stageBars) finish(ok bool) {
	if b.bar == nil {
		return
	}
	if ok {
		_ = b.bar.Finish()
		fmt.Println(" [OK]")
	} else {
		fmt.Println(" [FAIL]")
	}
	b.bar = nil
}
