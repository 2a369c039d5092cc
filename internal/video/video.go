// Package video - обёртка над ffmpeg: разбор параметров видео, нарезка
// кадров, вырезка звука и кодирование mp4/webm из готовых кадров.
package video

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/logging"
	"github.com/ivlev/gifloop/internal/system"
	"github.com/ivlev/gifloop/internal/timing"
)

// DefaultFPS - если частоту кадров узнать не удалось.
const DefaultFPS = 10.0

// Info - параметры исходника, прочитанные из баннера ffmpeg.
type Info struct {
	Width, Height int
	// Duration ноль, если длина неизвестна (картинки).
	Duration time.Duration
	FPS      float64
	Rotated  bool
}

// FrameRate - частота, округлённая до целого, не меньше 1.
func (i Info) FrameRate() int {
	return max(1, int(math.Round(i.FPS)))
}

type ExtractOptions struct {
	Input    string
	Start    time.Duration
	Duration time.Duration
	FPS      int
	Dir      string
}

type AudioOptions struct {
	Input    string
	Start    time.Duration
	Duration time.Duration
	Volume   float64 // 1.0 - без изменений
	Output   string
}

// EncodeOptions - сборка видео из кадров image0001.png...
type EncodeOptions struct {
	FramesDir string
	// Delay - задержка кадра в сотых секунды, как у GIF.
	Delay  int
	Format string // mp4 или webm
	// Audio - готовый звуковой файл, пусто - тишина.
	Audio  string
	Output string
}

// Transcoder - то, что движку нужно от ffmpeg.
type Transcoder interface {
	Probe(ctx context.Context, path string) (Info, error)
	ExtractFrames(ctx context.Context, opt ExtractOptions, progress system.ProgressFunc) error
	ExtractAudio(ctx context.Context, opt AudioOptions, progress system.ProgressFunc) error
	Encode(ctx context.Context, opt EncodeOptions, progress system.ProgressFunc) error
}

type FFmpeg struct {
	path   string
	runner *system.Runner
	log    zerolog.Logger
}

func NewFFmpeg(path string, runner *system.Runner, logger zerolog.Logger) *FFmpeg {
	return &FFmpeg{
		path:   path,
		runner: runner,
		log:    logging.WithComponent(logger, "ffmpeg"),
	}
}

var blockedExts = []string{".exe", ".bat"}

// CheckInput отсекает исполняемые файлы и несуществующие пути.
func CheckInput(path string) error {
	lower := strings.ToLower(path)
	for _, ext := range blockedExts {
		if strings.Contains(lower, ext) {
			return apperr.New(apperr.KindPrecondition, "probe", "неподдерживаемое расширение файла: %s", filepath.Base(path))
		}
	}
	if _, err := os.Stat(path); err != nil {
		return apperr.WrapPath(apperr.KindIO, "probe", path, err)
	}
	return nil
}

// Probe запускает "ffmpeg -i path" без выхода. ffmpeg при этом всегда
// завершается с ошибкой, поэтому код выхода игнорируется и разбирается
// только баннер.
func (f *FFmpeg) Probe(ctx context.Context, path string) (Info, error) {
	if err := CheckInput(path); err != nil {
		return Info{}, err
	}
	res, err := f.runner.Run(ctx, system.Command{
		Path:    f.path,
		Args:    []string{"-i", path},
		Capture: true,
	}, nil)
	if err != nil && !apperr.IsKind(err, apperr.KindTool) {
		return Info{}, err
	}
	if res.Output == "" && err != nil {
		return Info{}, err
	}
	info, perr := ParseProbe(res.Output)
	if perr != nil {
		return Info{}, perr
	}
	f.log.Info().Int("width", info.Width).Int("height", info.Height).
		Float64("fps", info.FPS).Dur("duration", info.Duration).Msg("Параметры видео")
	return info, nil
}

var (
	sizeRe     = regexp.MustCompile(`Stream.*Video.* ([0-9]+)x([0-9]+)`)
	aspectRe   = regexp.MustCompile(`Stream #0.+Video.+\[SAR (\d+):(\d+) DAR (\d+):(\d+)\]`)
	rotateRe   = regexp.MustCompile(`\s+rotate\s+:\s+(90|270|-90|-270)\b`)
	matrixRe   = regexp.MustCompile(`rotation of (-?90|-?270)\.0+ degrees`)
	durationRe = regexp.MustCompile(`Duration: ([0-9\.:]+),`)
	tbrRe      = regexp.MustCompile(`Video:.+?([0-9\.]+) tbr`)
)

// ParseProbe достаёт размер, длину и частоту кадров из баннера ffmpeg.
// Неквадратные пиксели пересчитываются в ширину по DAR, видео,
// повёрнутое на бок, меняет местами ширину и высоту.
func ParseProbe(out string) (Info, error) {
	var info Info
	m := sizeRe.FindStringSubmatch(out)
	if m == nil {
		return info, apperr.New(apperr.KindExtraction, "probe", "не удалось определить размер видео")
	}
	info.Width, _ = strconv.Atoi(m[1])
	info.Height, _ = strconv.Atoi(m[2])

	if m := aspectRe.FindStringSubmatch(out); m != nil {
		var v [4]float64
		for i := range v {
			v[i], _ = strconv.ParseFloat(m[i+1], 64)
		}
		if v[1] > 0 && v[3] > 0 {
			sar, dar := v[0]/v[1], v[2]/v[3]
			if sar != 1 && dar != sar {
				info.Width = int(float64(info.Height) * dar)
			}
		}
	}

	if rotateRe.MatchString(out) || matrixRe.MatchString(out) {
		info.Rotated = true
		info.Width, info.Height = info.Height, info.Width
	}

	if m := durationRe.FindStringSubmatch(out); m != nil {
		if d, err := timing.ParseDuration(m[1]); err == nil {
			info.Duration = d
		}
	}

	info.FPS = DefaultFPS
	if m := tbrRe.FindStringSubmatch(out); m != nil {
		if fps, err := strconv.ParseFloat(m[1], 64); err == nil && fps > 0 {
			info.FPS = fps
		}
	}
	return info, nil
}

// ExtractFrames режет видео на кадры image%04d.png. Порядок ключей
// важен: -t и -ss до -i дают быстрый поиск.
func (f *FFmpeg) ExtractFrames(ctx context.Context, opt ExtractOptions, progress system.ProgressFunc) error {
	_, err := f.runner.Run(ctx, system.Command{
		Path:  f.path,
		Args:  buildExtractArgs(opt),
		Parse: system.FFmpegProgress(opt.Duration),
	}, progress)
	if err != nil {
		return apperr.Recast(apperr.KindExtraction, "extract frames", err)
	}
	return nil
}

func buildExtractArgs(opt ExtractOptions) []string {
	return []string{
		"-v", "verbose",
		"-sn",
		"-t", fmt.Sprintf("%.1f", opt.Duration.Seconds()),
		"-ss", timing.FormatDuration(opt.Start),
		"-i", opt.Input,
		"-r", strconv.Itoa(opt.FPS),
		filepath.Join(opt.Dir, "image%04d.png"),
	}
}

// ExtractAudio вырезает кусок звука длиной во всю анимацию.
func (f *FFmpeg) ExtractAudio(ctx context.Context, opt AudioOptions, progress system.ProgressFunc) error {
	_ = os.Remove(opt.Output)
	_, err := f.runner.Run(ctx, system.Command{
		Path:  f.path,
		Args:  buildAudioArgs(opt),
		Parse: system.FFmpegProgress(opt.Duration),
	}, progress)
	if err != nil {
		return apperr.Recast(apperr.KindFinalize, "extract audio", err)
	}
	return nil
}

func buildAudioArgs(opt AudioOptions) []string {
	return []string{
		"-y", "-v", "verbose",
		"-ss", fmt.Sprintf("%.3f", opt.Start.Seconds()),
		"-t", fmt.Sprintf("%.1f", opt.Duration.Seconds()),
		"-i", opt.Input,
		"-af", fmt.Sprintf("volume=%.1f", opt.Volume),
		opt.Output,
	}
}

// Encode собирает mp4 или webm. Частота входа выводится из задержки
// кадра, выход всегда 30 кадров в секунду.
func (f *FFmpeg) Encode(ctx context.Context, opt EncodeOptions, progress system.ProgressFunc) error {
	args, err := buildEncodeArgs(opt)
	if err != nil {
		return err
	}
	_, err = f.runner.Run(ctx, system.Command{
		Path:  f.path,
		Args:  args,
		Parse: system.FFmpegProgress(0),
	}, progress)
	if err != nil {
		return apperr.Recast(apperr.KindFinalize, "encode "+opt.Format, err)
	}
	return nil
}

func buildEncodeArgs(opt EncodeOptions) ([]string, error) {
	delay := max(opt.Delay, 1)
	fps := 100.0 / float64(delay)

	args := []string{
		"-v", "verbose", "-y",
		"-r", fmt.Sprintf("%.2f", fps),
		"-start_number", "1",
		"-i", filepath.Join(opt.FramesDir, "image%04d.png"),
	}

	audioCodec := []string{"-c:a", "aac", "-strict", "experimental"}
	if opt.Format == "webm" {
		audioCodec = []string{"-c:a", "libvorbis"}
	}
	if opt.Audio != "" {
		args = append(args, "-i", opt.Audio)
		args = append(args, audioCodec...)
		args = append(args, "-b:a", "128k")
	} else {
		args = append(args, "-f", "lavfi", "-i", "aevalsrc=0")
	}

	switch opt.Format {
	case "mp4":
		args = append(args, "-c:v", "libx264", "-crf", "18", "-preset", "slow",
			"-vf", "scale=trunc(in_w/2)*2:trunc(in_h/2)*2,setsar=1:1",
			"-pix_fmt", "yuv420p")
	case "webm":
		args = append(args, "-c:v", "libvpx", "-crf", "4", "-b:v", "312.5k", "-vf", "setsar=1:1")
	default:
		return nil, apperr.New(apperr.KindConfig, "encode", "неизвестный формат %q", opt.Format)
	}
	return append(args, "-shortest", "-r", "30", opt.Output), nil
}
