package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/ini.v1"

	"github.com/ivlev/gifloop/internal/apperr"
)

//go:embed defaults.ini
var defaultINI []byte

var loadOptions = ini.LoadOptions{
	Insensitive:         true,
	IgnoreInlineComment: true,
	AllowBooleanKeys:    true,
}

// Settings хранит пользовательские настройки в формате INI и считает
// изменения каждого ключа. Счётчики нужны трекеру стадий: по ним он
// понимает, что стадию надо перезапустить.
type Settings struct {
	mu       sync.RWMutex
	file     *ini.File
	path     string
	platform string
	counters map[string]uint64
	log      zerolog.Logger
}

// Load читает настройки из path поверх встроенных значений по умолчанию.
// Отсутствие файла не ошибка: пишем в лог и работаем на умолчаниях.
func Load(path string, logger zerolog.Logger) (*Settings, error) {
	s, err := newSettings(logger)
	if err != nil {
		return nil, err
	}
	s.path = path

	if path == "" {
		return s, nil
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Error().Str("path", path).Msg("Файл настроек не найден, используются значения по умолчанию")
			return s, nil
		}
		return nil, apperr.WrapPath(apperr.KindConfig, "stat settings", path, err)
	}

	if err := s.file.Append(path); err != nil {
		return nil, apperr.WrapPath(apperr.KindConfig, "parse settings", path, err)
	}
	logger.Debug().Str("path", path).Msg("Настройки загружены")
	return s, nil
}

// Defaults возвращает настройки без пользовательского файла.
func Defaults() *Settings {
	s, err := newSettings(zerolog.Nop())
	if err != nil {
		// встроенный файл проверяется тестами
		panic(err)
	}
	return s
}

func newSettings(logger zerolog.Logger) (*Settings, error) {
	f, err := ini.LoadSources(loadOptions, defaultINI)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "parse default settings", err)
	}
	return &Settings{
		file:     f,
		platform: runtime.GOOS,
		counters: make(map[string]uint64),
		log:      logger,
	}, nil
}

// Path возвращает путь файла, из которого загружены настройки.
func (s *Settings) Path() string {
	return s.path
}

// SetPlatform переопределяет суффикс платформенных секций (paths-linux и т.п.).
func (s *Settings) SetPlatform(platform string) {
	s.mu.Lock()
	s.platform = platform
	s.mu.Unlock()
}

// Exists сообщает, задан ли ключ в секции или в её платформенном варианте.
func (s *Settings) Exists(section, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.lookup(section, key)
	return ok
}

func (s *Settings) lookup(section, key string) (string, bool) {
	for _, name := range []string{section, section + "-" + s.platform} {
		sec, err := s.file.GetSection(name)
		if err != nil {
			continue
		}
		if sec.HasKey(key) {
			return sec.Key(key).String(), true
		}
	}
	return "", false
}

// Get возвращает строковое значение. Если в базовой секции ключа нет,
// ищем в секции "<section>-<GOOS>". Значение, начинающееся с ";",
// считается закомментированным и даёт пустую строку.
func (s *Settings) Get(section, key string) string {
	s.mu.RLock()
	val, _ := s.lookup(section, key)
	s.mu.RUnlock()

	val = os.ExpandEnv(val)
	if strings.HasPrefix(val, ";") {
		return ""
	}
	return val
}

// GetBool: "", "false" и "0" ложны, всё остальное истинно.
func (s *Settings) GetBool(section, key string) bool {
	return ParseBool(s.Get(section, key))
}

// ParseBool: "", "false" и "0" ложны.
func ParseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "", "false", "0":
		return false
	}
	return true
}

func (s *Settings) GetInt(section, key string) (int, error) {
	raw := strings.TrimSpace(s.Get(section, key))
	v, err := strconv.Atoi(raw)
	if err != nil {
		// "20pt", "3.0" и подобное встречается в старых файлах
		f, ferr := strconv.ParseFloat(strings.TrimSuffix(raw, "pt"), 64)
		if ferr != nil {
			return 0, apperr.New(apperr.KindConfig, "get int", "%s.%s: %q не число", section, key, raw)
		}
		return int(f), nil
	}
	return v, nil
}

// IntOr возвращает def, если значение не парсится.
func (s *Settings) IntOr(section, key string, def int) int {
	v, err := s.GetInt(section, key)
	if err != nil {
		return def
	}
	return v
}

func (s *Settings) GetFloat(section, key string) (float64, error) {
	raw := strings.TrimSpace(s.Get(section, key))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperr.New(apperr.KindConfig, "get float", "%s.%s: %q не число", section, key, raw)
	}
	return v, nil
}

// Set записывает значение и возвращает true, если оно отличалось от
// прежнего. При изменении счётчик ключа увеличивается.
func (s *Settings) Set(section, key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec := s.file.Section(section)
	current, existed := "", sec.HasKey(key)
	if existed {
		current = sec.Key(key).String()
	}
	if existed && current == value {
		return false
	}
	sec.Key(key).SetValue(value)
	s.counters[counterKey(section, key)]++
	return true
}

func (s *Settings) SetBool(section, key string, value bool) bool {
	return s.Set(section, key, strconv.FormatBool(value))
}

func (s *Settings) SetInt(section, key string, value int) bool {
	return s.Set(section, key, strconv.Itoa(value))
}

// Counter возвращает число фактических изменений ключа.
func (s *Settings) Counter(section, key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[counterKey(section, key)]
}

// Revision суммирует счётчики всех ключей, подходящих под deps.
// Значение только растёт, поэтому его можно сравнивать со снимком.
func (s *Settings) Revision(deps []Dep) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for name, n := range s.counters {
		section, key, _ := strings.Cut(name, ".")
		for _, d := range deps {
			if d.Matches(section, key) {
				total += n
				break
			}
		}
	}
	return total
}

// Snapshot возвращает отсортированные строки "section.key=value" для всех
// ключей, подходящих под deps.
func (s *Settings) Snapshot(deps []Dep) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, sec := range s.file.Sections() {
		for _, k := range sec.Keys() {
			for _, d := range deps {
				if d.Matches(sec.Name(), k.Name()) {
					out = append(out, sec.Name()+"."+k.Name()+"="+k.String())
					break
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// SectionNames возвращает имена секций, начинающихся с prefix.
func (s *Settings) SectionNames(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix = strings.ToLower(prefix)
	var names []string
	for _, sec := range s.file.Sections() {
		if strings.HasPrefix(sec.Name(), prefix) {
			names = append(names, sec.Name())
		}
	}
	return names
}

// Save записывает текущее состояние в path (или в исходный файл).
func (s *Settings) Save(path string) error {
	if path == "" {
		path = s.path
	}
	if path == "" {
		return apperr.New(apperr.KindConfig, "save settings", "путь не задан")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.file.SaveTo(path); err != nil {
		return apperr.WrapPath(apperr.KindIO, "save settings", path, err)
	}
	return nil
}

// Dump пишет все настройки в лог на уровне Debug.
func (s *Settings) Dump() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sec := range s.file.Sections() {
		for _, k := range sec.Keys() {
			s.log.Debug().Str("key", fmt.Sprintf("%s.%s", sec.Name(), k.Name())).Str("value", k.String()).Send()
		}
	}
}

func counterKey(section, key string) string {
	return strings.ToLower(section) + "." + strings.ToLower(key)
}

// Dep описывает зависимость стадии от настроек. Section может
// заканчиваться на "*" (caption* покрывает caption1..caption30),
// пустой Key означает любой ключ секции.
type Dep struct {
	Section string
	Key     string
}

func (d Dep) Matches(section, key string) bool {
	want := strings.ToLower(d.Section)
	section = strings.ToLower(section)
	if prefix, ok := strings.CutSuffix(want, "*"); ok {
		if !strings.HasPrefix(section, prefix) {
			return false
		}
	} else if want != section {
		return false
	}
	return d.Key == "" || strings.EqualFold(d.Key, key)
}
