package system

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/time/rate"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/logging"
	"github.com/ivlev/gifloop/internal/timing"
)

const (
	// PollInterval - как часто вызывается обратный вызов прогресса.
	PollInterval = 100 * time.Millisecond

	maxTailBytes = 8 * 1024
)

// ProgressFunc получает процент (nil, если неизвестен) и строку статуса.
// false означает "остановить": процесс и его потомки будут убиты.
type ProgressFunc func(percent *int, status string) bool

// LineParser разбирает строку вывода процесса. ok=false - строка ничего
// не сообщает. percent < 0 - статус без процента.
type LineParser func(line string) (percent int, status string, ok bool)

// Command - один запуск внешней программы.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Parse применяется к каждой строке stdout и stderr.
	Parse LineParser
	// Capture сохраняет весь вывод в Result.Output (нужно для разбора
	// баннера ffmpeg). Иначе хранится только хвост stderr.
	Capture bool
}

type Result struct {
	ExitCode   int
	Output     string
	StderrTail string
	Duration   time.Duration
}

// Runner запускает внешние программы, опрашивает их раз в PollInterval
// и умеет прерывать по флагу отмены.
type Runner struct {
	log      zerolog.Logger
	canceled atomic.Bool
	interval time.Duration
}

func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{
		log:      logging.WithComponent(logger, "runner"),
		interval: PollInterval,
	}
}

// Cancel поднимает флаг отмены. Текущий процесс будет убит на ближайшем
// опросе, новые не запустятся до Reset.
func (r *Runner) Cancel() {
	r.canceled.Store(true)
}

func (r *Runner) Canceled() bool {
	return r.canceled.Load()
}

func (r *Runner) Reset() {
	r.canceled.Store(false)
}

// Run запускает команду и ждёт её завершения. Ненулевой код выхода -
// ошибка KindTool с хвостом stderr, отмена - KindCanceled.
func (r *Runner) Run(ctx context.Context, c Command, progress ProgressFunc) (Result, error) {
	name := filepath.Base(c.Path)
	if r.Canceled() {
		return Result{}, apperr.New(apperr.KindCanceled, name, "отменено")
	}

	r.log.Debug().Str("cmd", c.Path).Strs("args", c.Args).Msg("Запуск")
	start := time.Now()

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindTool, name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindTool, name, err)
	}
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, apperr.Wrap(apperr.KindTool, name, err)
	}

	st := &streamState{parse: c.Parse, capture: c.Capture}
	if label, pct, ok := CommentProgress(c.Args); ok {
		st.update(pct, label)
	}
	sometimes := rate.Sometimes{Interval: time.Second}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		st.consume(stdout, false, func(line string) {
			sometimes.Do(func() { r.log.Debug().Str("tool", name).Str("out", line).Send() })
		})
	}()
	go func() {
		defer wg.Done()
		st.consume(stderr, true, func(line string) {
			sometimes.Do(func() { r.log.Debug().Str("tool", name).Str("err", line).Send() })
		})
	}()

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var waitErr error
	aborted := false
loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-ticker.C:
			stop := r.Canceled()
			if !stop && progress != nil {
				pct, status := st.snapshot()
				stop = !progress(pct, status)
			}
			if stop && !aborted {
				aborted = true
				r.Cancel()
				killTree(cmd, r.log)
			}
		}
	}

	res := Result{
		ExitCode:   cmd.ProcessState.ExitCode(),
		Output:     st.output(),
		StderrTail: st.tail(),
		Duration:   time.Since(start),
	}

	switch {
	case aborted:
		return res, apperr.New(apperr.KindCanceled, name, "прервано пользователем")
	case ctx.Err() != nil:
		return res, apperr.Wrap(apperr.KindCanceled, name, ctx.Err())
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			r.log.Error().Str("tool", name).Int("code", res.ExitCode).Str("stderr", res.StderrTail).Msg("Программа завершилась с ошибкой")
			return res, apperr.New(apperr.KindTool, name, "код выхода %d: %s", res.ExitCode, lastLine(res.StderrTail))
		}
		return res, apperr.Wrap(apperr.KindTool, name, waitErr)
	}
	r.log.Debug().Str("tool", name).Dur("took", res.Duration).Msg("Готово")
	return res, nil
}

// killTree убивает процесс вместе с потомками (convert и ffmpeg иногда
// запускают вспомогательные процессы).
func killTree(cmd *exec.Cmd, log zerolog.Logger) {
	if cmd.Process == nil {
		return
	}
	if p, err := process.NewProcess(int32(cmd.Process.Pid)); err == nil {
		killChildren(p)
	}
	if err := cmd.Process.Kill(); err != nil {
		log.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("Не удалось завершить процесс")
	}
}

func killChildren(p *process.Process) {
	children, err := p.Children()
	if err != nil {
		return
	}
	for _, c := range children {
		killChildren(c)
		_ = c.Kill()
	}
}

type streamState struct {
	mu      sync.Mutex
	parse   LineParser
	capture bool
	percent *int
	status  string
	out     bytes.Buffer
	errTail []byte
}

func (s *streamState) update(pct int, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pct >= 0 {
		v := pct
		s.percent = &v
	}
	if status != "" {
		s.status = status
	}
}

func (s *streamState) snapshot() (*int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.percent == nil {
		return nil, s.status
	}
	v := *s.percent
	return &v, s.status
}

func (s *streamState) consume(r io.Reader, isErr bool, logLine func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(scanLinesCR)
	for sc.Scan() {
		line := sc.Text()
		logLine(line)

		s.mu.Lock()
		if s.capture {
			s.out.WriteString(line)
			s.out.WriteByte('\n')
		}
		if isErr {
			s.errTail = append(s.errTail, line...)
			s.errTail = append(s.errTail, '\n')
			if n := len(s.errTail); n > maxTailBytes {
				s.errTail = s.errTail[n-maxTailBytes:]
			}
		}
		s.mu.Unlock()

		if s.parse != nil {
			if pct, status, ok := s.parse(line); ok {
				s.update(pct, status)
			}
		}
	}
	if err := sc.Err(); err != nil {
		// строка длиннее буфера: дочитываем молча, иначе процесс встанет на записи
		logLine("вывод не разобран: " + err.Error())
		_, _ = io.Copy(io.Discard, r)
	}
}

func (s *streamState) output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.String()
}

func (s *streamState) tail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.errTail)
}

// scanLinesCR режет и по \n, и по \r: ffmpeg и youtube-dl обновляют
// строку прогресса возвратом каретки.
func scanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, bytes.TrimRight(data[:i], "\r"), nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

var (
	downloadRe = regexp.MustCompile(`\[download\]\s+([0-9\.]+)% of`)
	ffmpegRe   = regexp.MustCompile(`frame=.+time=(\d+:\d+:\d+\.\d+)`)
	commentRe  = regexp.MustCompile(`^([^:]+):(-?\d+)$`)
)

// DownloadProgress разбирает строки youtube-dl вида "[download]  42.0% of ...".
func DownloadProgress(line string) (int, string, bool) {
	m := downloadRe.FindStringSubmatch(line)
	if m == nil {
		return 0, "", false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", false
	}
	pct := int(f)
	return pct, fmt.Sprintf("Загружено %d%%...", pct), true
}

// FFmpegProgress разбирает "frame=... time=HH:MM:SS.ms". Если total
// известен, считается процент.
func FFmpegProgress(total time.Duration) LineParser {
	return func(line string) (int, string, bool) {
		m := ffmpegRe.FindStringSubmatch(line)
		if m == nil {
			return 0, "", false
		}
		d, err := timing.ParseDuration(m[1])
		if err != nil {
			return 0, "", false
		}
		pct := -1
		if total > 0 {
			pct = min(100, int(d*100/total))
		}
		return pct, fmt.Sprintf("Обработано %.1f с...", d.Seconds()), true
	}
}

// CommentProgress достаёт метку из аргументов convert: пара
// `-comment "Label:NN"` несёт подпись и процент готовности. -1 - без процента.
func CommentProgress(args []string) (label string, percent int, ok bool) {
	for i := 0; i+1 < len(args); i++ {
		if args[i] != "-comment" {
			continue
		}
		m := commentRe.FindStringSubmatch(args[i+1])
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if n < 0 {
			return m[1], -1, true
		}
		return fmt.Sprintf("%d%% %s", n, m[1]), n, true
	}
	return "", 0, false
}

// CommentArgs строит пару аргументов-меток для CommentProgress.
func CommentArgs(label string, percent int) []string {
	return []string{"-comment", fmt.Sprintf("%s:%d", label, percent)}
}
