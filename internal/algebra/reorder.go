package algebra

import (
	"os"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/frames"
)

// Reverse разворачивает порядок кадров.
func (e *Editor) Reverse() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	paths := e.seq.Sorted()
	n := len(paths)
	if n < 2 {
		return apperr.New(apperr.KindPrecondition, "reverse", "нужно хотя бы 2 кадра, есть %d", n)
	}

	moves := make([]frames.Move, n)
	for i, p := range paths {
		moves[i] = frames.Move{From: p, To: n - i}
	}
	if err := e.seq.Permute(moves); err != nil {
		return err
	}
	e.log.Info().Int("frames", n).Msg("Порядок кадров развёрнут")
	return nil
}

// ForwardReverseLoop дописывает после последнего кадра копии кадров
// N-1..2. Первый и последний кадр не повторяются, иначе на стыке
// заметна задержка.
func (e *Editor) ForwardReverseLoop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	paths := e.seq.Sorted()
	n := len(paths)
	if n < 3 {
		return apperr.New(apperr.KindPrecondition, "forward-reverse loop", "нужно хотя бы 3 кадра, есть %d", n)
	}
	total := 2*n - 2
	if total > frames.MaxFrames {
		return apperr.New(apperr.KindOutOfRange, "forward-reverse loop", "получится %d кадров, максимум %d", total, frames.MaxFrames)
	}

	moves := make([]frames.Move, 0, total)
	for i, p := range paths {
		moves = append(moves, frames.Move{From: p, To: i + 1})
	}
	for i := n - 2; i >= 1; i-- {
		moves = append(moves, frames.Move{From: paths[i], To: len(moves) + 1})
	}
	if err := e.seq.Permute(moves); err != nil {
		return err
	}
	e.log.Info().Int("before", n).Int("after", total).Msg("Добавлен обратный ход")
	return nil
}

// DeleteRange удаляет кадры from..to включительно (с единицы), при
// evenOnly каждый второй начиная с from. to за пределами обрезается,
// from за пределами - ошибка OutOfRange. Удалить все кадры нельзя.
func (e *Editor) DeleteRange(from, to int, evenOnly bool) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	paths := e.seq.Sorted()
	count := len(paths)
	if from < 1 || from > count {
		return 0, apperr.New(apperr.KindOutOfRange, "delete frames", "кадр %d вне диапазона 1..%d", from, count)
	}
	if to < from {
		return 0, apperr.New(apperr.KindOutOfRange, "delete frames", "конец %d раньше начала %d", to, from)
	}
	to = min(to, count)

	step := 1
	if evenOnly {
		step = 2
	}
	var victims []string
	for i := from; i <= to; i += step {
		victims = append(victims, paths[i-1])
	}
	if len(victims) >= count {
		return 0, apperr.New(apperr.KindPrecondition, "delete frames", "нельзя удалить все кадры")
	}

	for _, p := range victims {
		if err := os.Remove(p); err != nil {
			return 0, apperr.WrapPath(apperr.KindIO, "delete frame", p, err)
		}
	}
	if err := e.seq.ReEnumerate(); err != nil {
		return 0, err
	}
	e.log.Info().Int("from", from).Int("to", to).Int("deleted", len(victims)).Msg("Кадры удалены")
	return len(victims), nil
}
