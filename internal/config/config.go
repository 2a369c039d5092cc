package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/ivlev/gifloop/internal/apperr"
)

// Config собирает всё, что нужно движку помимо пользовательских настроек:
// пути к внешним утилитам, рабочую папку и путь результата.
type Config struct {
	SourcePath     string
	OutputPath     string
	WorkDir        string
	FFmpegPath     string
	ConvertPath    string
	GifsiclePath   string
	DownloaderPath string
	Workers        int
	Overwrite      bool
	ShowStats      bool
	BuildVersion   string
	// SessionWorkDir: рабочая папка создана на этот запуск, её можно удалить.
	SessionWorkDir bool
}

// FromSettings заполняет Config из секций paths/settings. Флаги CLI
// накладываются поверх вызывающим кодом.
func FromSettings(s *Settings) *Config {
	cfg := &Config{
		FFmpegPath:     s.Get("paths", "ffmpeg"),
		ConvertPath:    s.Get("paths", "convert"),
		GifsiclePath:   s.Get("paths", "gifsicle"),
		DownloaderPath: s.Get("paths", "youtubedl"),
		WorkDir:        s.Get("paths", "workingDir"),
		Overwrite:      s.GetBool("settings", "overwriteGif"),
		Workers:        runtime.NumCPU(),
	}

	out := s.Get("paths", "gifOutputPath")
	if out == "" || strings.EqualFold(out, "default") {
		out = filepath.Join(DefaultOutputDir(), "insta.gif")
	}
	cfg.OutputPath = out

	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "gifloop_"+uuid.NewString())
		cfg.SessionWorkDir = true
	}
	return cfg
}

// DefaultOutputDir: рабочий стол пользователя, если он есть, иначе домашняя папка.
func DefaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	desktop := filepath.Join(home, "Desktop")
	if fi, err := os.Stat(desktop); err == nil && fi.IsDir() {
		return desktop
	}
	return home
}

// Validate проверяет обязательные пути. Без транскодера и конвертера
// конвейер не построить, gifsicle и загрузчик опциональны.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return apperr.New(apperr.KindConfig, "validate", "не задана рабочая папка")
	}
	if c.OutputPath == "" {
		return apperr.New(apperr.KindConfig, "validate", "не задан путь результата")
	}
	for _, tool := range []struct{ name, path string }{
		{"ffmpeg", c.FFmpegPath},
		{"convert", c.ConvertPath},
	} {
		if tool.path == "" {
			return apperr.New(apperr.KindConfig, "validate", "не задан путь к %s", tool.name)
		}
		if _, err := os.Stat(tool.path); err != nil {
			return apperr.WrapPath(apperr.KindConfig, "validate "+tool.name, tool.path, err)
		}
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	return nil
}

// OutputFormat возвращает расширение результата без точки: gif, mp4, webm.
func (c *Config) OutputFormat() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(c.OutputPath)), ".")
}
