// Package download скачивает видео по ссылке через youtube-dl (yt-dlp)
// и переводит его ошибки в понятные сообщения.
package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/logging"
	"github.com/ivlev/gifloop/internal/system"
)

// Quality - ограничение качества скачиваемого видео.
type Quality string

const (
	QualityNone    Quality = "None"
	QualityLow     Quality = "Low"
	QualityMedium  Quality = "Medium"
	QualityHigh    Quality = "High"
	QualityHighest Quality = "Highest"
)

// Format возвращает аргумент --format. Пустая строка - качество не
// указывается вовсе.
func (q Quality) Format() string {
	switch q {
	case QualityNone:
		return ""
	case QualityLow:
		return "[height<=?240]"
	case QualityHigh:
		return "[height<=?720]"
	case QualityHighest:
		return "bestvideo"
	default:
		return "[height<=?360]"
	}
}

// Failure - класс ошибки загрузчика.
type Failure int

const (
	FailUnknown Failure = iota
	FailNotFound
	FailRemoved
	FailInvalidURL
	FailNetwork
	FailProtected
)

func (f Failure) Message() string {
	switch f {
	case FailNotFound:
		return "Видео не найдено."
	case FailRemoved:
		return "Видео удалено за нарушение правил площадки."
	case FailInvalidURL:
		return "Неверная ссылка на видео."
	case FailNetwork:
		return "Не удалось скачать видео. Неверная ссылка, закрытое видео или загрузку блокирует файрвол?"
	case FailProtected:
		return "Видео защищено от копирования. Попробуйте запись экрана."
	}
	return "Не удалось скачать видео."
}

// Error - ошибка загрузки с классом и строкой загрузчика.
type Error struct {
	Failure Failure
	Line    string
}

func (e *Error) Error() string {
	if e.Failure == FailUnknown && e.Line != "" {
		return e.Failure.Message() + " " + e.Line
	}
	return e.Failure.Message()
}

// Classify ищет в выводе загрузчика строки ERROR и определяет класс.
func Classify(output string) (Failure, string) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "ERROR") {
			continue
		}
		line = strings.TrimSpace(line)
		switch {
		case strings.Contains(line, "This video does not exist"):
			return FailNotFound, line
		case strings.Contains(line, "Community Guidelines"):
			return FailRemoved, line
		case strings.Contains(line, "is not a valid URL"):
			return FailInvalidURL, line
		case strings.Contains(line, "Signature extraction failed"), strings.Contains(line, "HTTP Error 403"):
			return FailProtected, line
		case strings.Contains(line, "10013"), strings.Contains(line, "11001"),
			strings.Contains(line, "CERTIFICATE_VERIFY_FAILED"):
			return FailNetwork, line
		default:
			return FailUnknown, line
		}
	}
	return FailUnknown, ""
}

// CleanURL убирает из ссылок YouTube параметр плейлиста, иначе
// скачивается весь плейлист.
func CleanURL(url string) string {
	if strings.Contains(strings.ToLower(url), "youtube") {
		if before, _, ok := strings.Cut(url, "&list="); ok {
			return before
		}
	}
	return url
}

// IsURL - строка похожа на ссылку, а не на путь.
func IsURL(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "www.")
}

type Downloader interface {
	Download(ctx context.Context, url string, q Quality, progress system.ProgressFunc) (string, error)
}

type YoutubeDL struct {
	path   string
	dir    string
	runner *system.Runner
	log    zerolog.Logger
}

// New: dir - папка downloads внутри рабочей.
func New(path, dir string, runner *system.Runner, logger zerolog.Logger) *YoutubeDL {
	return &YoutubeDL{
		path:   path,
		dir:    dir,
		runner: runner,
		log:    logging.WithComponent(logger, "download"),
	}
}

// Download скачивает видео и возвращает путь к файлу.
func (d *YoutubeDL) Download(ctx context.Context, url string, q Quality, progress system.ProgressFunc) (string, error) {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return "", apperr.WrapPath(apperr.KindConfig, "download", d.dir, err)
	}
	out := filepath.Join(d.dir, "videofile_"+uuid.NewString())

	clean := CleanURL(url)
	if clean != url {
		d.log.Info().Msg("Ссылка на плейлист YouTube, загружаем только видео")
	}

	res, runErr := d.runner.Run(ctx, system.Command{
		Path:    d.path,
		Args:    buildArgs(clean, q, out),
		Parse:   system.DownloadProgress,
		Capture: true,
	}, progress)
	if apperr.IsKind(runErr, apperr.KindCanceled) {
		return "", runErr
	}

	if _, err := os.Stat(out); err != nil {
		failure, line := Classify(res.Output)
		d.log.Error().Str("url", clean).Str("stderr", res.StderrTail).Msg("Загрузчик не смог скачать видео")
		return "", apperr.Wrap(apperr.KindExtraction, "download", errors.Join(&Error{Failure: failure, Line: line}, runErr))
	}
	return out, nil
}

func buildArgs(url string, q Quality, out string) []string {
	args := []string{"-v", "-k", "--no-check-certificate", "--newline"}
	if f := q.Format(); f != "" {
		args = append(args, "--format", f)
	}
	return append(args, "-o", out, url)
}
