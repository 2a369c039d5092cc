package frames

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ivlev/gifloop/internal/apperr"
)

// Move описывает, какой файл станет кадром To. From может лежать вне
// папки последовательности (импорт). Copy оставляет исходник на месте.
type Move struct {
	From string
	To   int
	Copy bool
}

// Permute раскладывает файлы по каноническим именам за два прохода:
// сначала всё уезжает во временные имена с уникальным токеном, затем
// временные имена становятся image%04d. Поэтому порядок переименований
// не важен и кадр N не затрёт кадр 1 до того, как тот прочитан.
//
// Цели должны покрывать 1..len(moves) без повторов, это проверяется до
// любых изменений на диске. Если исходник встречается несколько раз,
// все использования кроме последнего копируются. Ошибка на середине
// возвращается как IO: откатов нет, стадию надо пересоздать.
func (s *Sequence) Permute(moves []Move) error {
	if err := validateMoves(moves); err != nil {
		return err
	}
	if s.isIdentity(moves) {
		return nil
	}

	uses := make(map[string]int, len(moves))
	for _, m := range moves {
		uses[filepath.Clean(m.From)]++
	}

	token := uuid.NewString()[:8]
	tmp := make([]string, len(moves))

	for i, m := range moves {
		from := filepath.Clean(m.From)
		tmp[i] = filepath.Join(s.dir, fmt.Sprintf("tmp_%s_%0*d.%s", token, IndexWidth, m.To, s.ext))

		uses[from]--
		var err error
		if m.Copy || uses[from] > 0 {
			err = copyFile(from, tmp[i])
		} else {
			err = os.Rename(from, tmp[i])
		}
		if err != nil {
			return apperr.WrapPath(apperr.KindIO, "permute stage 1", from, err)
		}
	}

	for i, m := range moves {
		if err := os.Rename(tmp[i], s.Path(m.To)); err != nil {
			return apperr.WrapPath(apperr.KindIO, "permute stage 2", tmp[i], err)
		}
	}
	return nil
}

func validateMoves(moves []Move) error {
	if len(moves) > MaxFrames {
		return apperr.New(apperr.KindOutOfRange, "permute", "слишком много кадров: %d", len(moves))
	}
	seen := make([]bool, len(moves)+1)
	for _, m := range moves {
		if m.To < 1 || m.To > len(moves) {
			return apperr.New(apperr.KindOutOfRange, "permute", "цель %d вне диапазона 1..%d", m.To, len(moves))
		}
		if seen[m.To] {
			return apperr.New(apperr.KindPrecondition, "permute", "цель %d назначена дважды", m.To)
		}
		seen[m.To] = true
		if _, err := os.Stat(m.From); err != nil {
			return apperr.WrapPath(apperr.KindIO, "permute", m.From, err)
		}
	}
	return nil
}

// isIdentity: каждый файл уже лежит под своим именем, копий нет.
// Тогда не трогаем диск, чтобы не сдвигать mtime папки.
func (s *Sequence) isIdentity(moves []Move) bool {
	for _, m := range moves {
		if m.Copy || filepath.Clean(m.From) != filepath.Clean(s.Path(m.To)) {
			return false
		}
	}
	return true
}

// CopyFile копирует содержимое файла, перезаписывая dst.
func CopyFile(src, dst string) error {
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
