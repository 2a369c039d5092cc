package system

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ivlev/gifloop/internal/apperr"
)

// memPerWorker - грубая оценка памяти на один параллельный кадр
// (декодированный PNG плюс буфер смешивания).
const memPerWorker = 256 << 20

// Workers подбирает число параллельных задач по ядрам и свободной памяти.
func Workers() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm.Available > 0 {
		byMem := int(vm.Available / memPerWorker)
		n = min(n, max(1, byMem))
	}
	return max(1, n)
}

// CheckFreeSpace возвращает ошибку KindConfig, если на диске с path
// меньше need байт. Если место узнать не удалось, проверка пропускается.
func CheckFreeSpace(path string, need uint64) error {
	u, err := disk.Usage(path)
	if err != nil {
		return nil
	}
	if u.Free < need {
		return apperr.New(apperr.KindConfig, "check free space",
			"на диске %s свободно %d МБ, нужно %d МБ", path, u.Free>>20, need>>20)
	}
	return nil
}
