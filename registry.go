package snkv

import (
	"os"

	"github.com/puzpuzpuz/xsync/v3"
)

// openFiles counts the connections of this process per database file.
var openFiles = xsync.NewMapOf[string, int]()

func register(path string) {
	openFiles.Compute(path, func(n int, _ bool) (int, bool) {
		return n + 1, false
	})
}

func unregister(path string) {
	openFiles.Compute(path, func(n int, loaded bool) (int, bool) {
		if !loaded || n <= 1 {
			return 0, true
		}
		return n - 1, false
	})
}

func connections(path string) int {
	n, _ := openFiles.Load(path)
	return n
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
