//go:build unix

package system

import (
	"syscall"

	"github.com/rs/zerolog"
)

// InitResourceLimits поднимает лимит открытых файлов: извлечение и
// обработка держат открытыми сотни кадров.
func InitResourceLimits(log zerolog.Logger) {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось получить лимит файлов")
		return
	}

	rLimit.Cur = 2048
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось установить лимит файлов")
	} else {
		log.Debug().Uint64("limit", uint64(rLimit.Cur)).Msg("Системный лимит открытых файлов увеличен")
	}
}
