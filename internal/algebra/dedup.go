package algebra

import (
	"context"
	"crypto/sha256"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/gifloop/internal/apperr"
)

// degenerateMinFrames - с какого числа кадров одинаковый не-видео
// источник считается ошибкой пользователя.
const degenerateMinFrames = 20

// CullResult - итог поиска дублей.
type CullResult struct {
	Total      int
	Duplicates int
	// Degenerate: после удаления дублей остаётся один кадр.
	Degenerate bool
	// Fatal: больше двадцати одинаковых картинок не из видео.
	Fatal bool
}

// Duplicates возвращает индексы (с единицы) кадров, повторяющих более
// ранний кадр байт в байт. Первый кадр каждой группы дублем не считается.
func (e *Editor) Duplicates(ctx context.Context) ([]int, int, error) {
	paths, dups, err := e.duplicates(ctx)
	return dups, len(paths), err
}

func (e *Editor) duplicates(ctx context.Context) ([]string, []int, error) {
	paths := e.seq.Sorted()
	sums := make([][sha256.Size]byte, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return apperr.Wrap(apperr.KindCanceled, "hash frames", err)
			}
			sum, err := hashFile(p)
			if err != nil {
				return apperr.WrapPath(apperr.KindIO, "hash frame", p, err)
			}
			sums[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return paths, nil, err
	}

	seen := make(map[[sha256.Size]byte]int, len(sums))
	var dups []int
	for i, sum := range sums {
		if _, ok := seen[sum]; ok {
			dups = append(dups, i+1)
			continue
		}
		seen[sum] = i + 1
	}
	return paths, dups, nil
}

func hashFile(path string) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	f, err := os.Open(path)
	if err != nil {
		return sum, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// Cull считает дубли и, если cull, удаляет их с перенумерацией.
// fromVideo различает видео и набор картинок: двадцать с лишним
// одинаковых картинок почти наверняка означают пустой захват экрана.
//
// Вырожденный источник возвращается ошибкой KindDegenerate вместе с
// заполненным результатом. При cull дубли к этому моменту уже удалены,
// остаётся один кадр. Fatal сообщает, стоит ли прерывать обработку.
func (e *Editor) Cull(ctx context.Context, cull, fromVideo bool) (CullResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	paths, dups, err := e.duplicates(ctx)
	if err != nil {
		return CullResult{}, err
	}
	total := len(paths)
	res := CullResult{Total: total, Duplicates: len(dups)}

	if cull && len(dups) > 0 {
		for n, idx := range dups {
			p := paths[idx-1]
			if err := os.Remove(p); err != nil {
				return res, apperr.WrapPath(apperr.KindIO, "remove duplicate", p, err)
			}
			e.log.Debug().Int("frame", idx).Msg("Удалён дубль кадра")
			e.report(n+1, len(dups))
		}
		if err := e.seq.ReEnumerate(); err != nil {
			return res, err
		}
		e.log.Info().Int("duplicates", len(dups)).Int("total", total).Msg("Дубли удалены")
	}

	allSame := total > 1 && len(dups) == total-1
	res.Fatal = allSame && !fromVideo && total > degenerateMinFrames
	if allSame && (cull || res.Fatal) {
		res.Degenerate = true
		return res, apperr.New(apperr.KindDegenerate, "cull duplicates",
			"все %d кадров одинаковые", total)
	}
	return res, nil
}
