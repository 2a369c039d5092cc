// Package frames владеет упорядоченной последовательностью кадров на диске:
// файлы image0001.png, image0002.png, ... в одной папке, без пропусков.
package frames

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ivlev/gifloop/internal/apperr"
)

const (
	// Prefix и IndexWidth задают каноническое имя кадра.
	Prefix     = "image"
	IndexWidth = 4
	DefaultExt = "png"

	// MaxFrames ограничен шириной индекса.
	MaxFrames = 9999
)

var indexPattern = regexp.MustCompile(`(\d+)\.[A-Za-z0-9]+$`)

// Sequence - кадры одной стадии. Все операции, меняющие состав кадров,
// обязаны закончиться ReEnumerate, иначе рендер увидит дыры в нумерации.
// Параллельная работа с одной папкой не поддерживается.
type Sequence struct {
	dir string
	ext string
}

func New(dir string) *Sequence {
	return &Sequence{dir: dir, ext: DefaultExt}
}

func NewWithExt(dir, ext string) *Sequence {
	return &Sequence{dir: dir, ext: strings.TrimPrefix(ext, ".")}
}

func (s *Sequence) Dir() string { return s.dir }
func (s *Sequence) Ext() string { return s.ext }

// Name возвращает каноническое имя кадра idx (с единицы).
func Name(idx int, ext string) string {
	return fmt.Sprintf("%s%0*d.%s", Prefix, IndexWidth, idx, ext)
}

// Path - путь к кадру idx без проверки существования.
func (s *Sequence) Path(idx int) string {
	return filepath.Join(s.dir, Name(idx, s.ext))
}

// Pattern - шаблон для ffmpeg/convert: image%04d.png.
func (s *Sequence) Pattern() string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%%0%dd.%s", Prefix, IndexWidth, s.ext))
}

// Ensure создаёт папку последовательности.
func (s *Sequence) Ensure() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return apperr.WrapPath(apperr.KindConfig, "create frame dir", s.dir, err)
	}
	return nil
}

// List отдаёт пути файлов в порядке каталога. Порядок не индексный:
// кому он важен, используют Sorted. Итератор можно запускать повторно.
func (s *Sequence) List() iter.Seq[string] {
	return func(yield func(string) bool) {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			if !yield(filepath.Join(s.dir, e.Name())) {
				return
			}
		}
	}
}

// Sorted возвращает кадры, упорядоченные по числу в имени. Файлы без
// числа идут в конец по алфавиту.
func (s *Sequence) Sorted() []string {
	paths := slices.Collect(s.List())
	slices.SortStableFunc(paths, func(a, b string) int {
		ia, oka := ParseIndex(a)
		ib, okb := ParseIndex(b)
		switch {
		case oka && okb && ia != ib:
			return ia - ib
		case oka && !okb:
			return -1
		case !oka && okb:
			return 1
		}
		return strings.Compare(filepath.Base(a), filepath.Base(b))
	})
	return paths
}

// ParseIndex достаёт число из хвоста имени файла: image0042.png -> 42.
func ParseIndex(path string) (int, bool) {
	m := indexPattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *Sequence) Count() int {
	n := 0
	for range s.List() {
		n++
	}
	return n
}

func (s *Sequence) Empty() bool {
	for range s.List() {
		return false
	}
	return true
}

// At возвращает путь idx-го кадра в индексном порядке. Выход за границы -
// ошибка OutOfRange, без заворачивания.
func (s *Sequence) At(idx int) (string, error) {
	paths := s.Sorted()
	if idx < 1 || idx > len(paths) {
		return "", apperr.New(apperr.KindOutOfRange, "frame at", "кадр %d вне диапазона 1..%d", idx, len(paths))
	}
	return paths[idx-1], nil
}

// DeleteAll удаляет все файлы. Первая же неудача возвращается как IO с
// путём: состояние стадии после этого не определено.
func (s *Sequence) DeleteAll() error {
	for p := range s.List() {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return apperr.WrapPath(apperr.KindIO, "delete frame", p, err)
		}
	}
	return nil
}

// LastModified - максимальное mtime среди файлов и самой папки (удаление
// файла меняет только mtime папки). Для пустой последовательности -
// нулевое время.
func (s *Sequence) LastModified() time.Time {
	var latest time.Time
	found := false
	for p := range s.List() {
		found = true
		if fi, err := os.Stat(p); err == nil && fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
	}
	if !found {
		return time.Time{}
	}
	if fi, err := os.Stat(s.dir); err == nil && fi.ModTime().After(latest) {
		latest = fi.ModTime()
	}
	return latest
}

// ReEnumerate переименовывает кадры в image0001..imageN в индексном
// порядке. Повторный вызов ничего не меняет.
func (s *Sequence) ReEnumerate() error {
	paths := s.Sorted()
	if len(paths) > MaxFrames {
		return apperr.New(apperr.KindOutOfRange, "re-enumerate", "слишком много кадров: %d", len(paths))
	}
	moves := make([]Move, len(paths))
	for i, p := range paths {
		moves[i] = Move{From: p, To: i + 1}
	}
	return s.Permute(moves)
}

// WrapIndex используется навигацией по миниатюрам: 0 -> последний,
// count+1 -> первый. Для удаления не годится.
func WrapIndex(idx, count int) int {
	if count <= 0 {
		return 0
	}
	if idx < 1 {
		return count
	}
	if idx > count {
		return 1
	}
	return idx
}
