//go:build unix

package inputdata

import (
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps path read-only. Empty files and filesystems without mmap fall
// back to a plain read.
func mapFile(path string) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := stat.Size()
	if size == 0 {
		return []byte{}, noRelease, nil
	}
	if size > int64(int(^uint(0)>>1)) {
		return nil, nil, ErrInvalidInput
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		return data, func() error { return unix.Munmap(data) }, nil
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, noRelease, nil
}

func noRelease() error { return nil }
