package compositor

import (
	"runtime"
	"sync"
)

// Workers caps the goroutines used by per-row operations. Zero means
// runtime.NumCPU().
var Workers = 0

// splitRows partitions h rows into at most workers contiguous bands.
func splitRows(h, workers int) [][2]int {
	if workers < 1 {
		workers = 1
	}
	if workers > h {
		workers = h
	}
	rows := make([][2]int, 0, workers)
	if workers == 0 {
		return rows
	}
	step := h / workers
	start := 0
	for i := 0; i < workers; i++ {
		end := start + step
		if i == workers-1 {
			end = h
		}
		rows = append(rows, [2]int{start, end})
		start = end
	}
	return rows
}

// forRows runs fn over row bands [y0, y1) relative to the top of an image
// of height h.
func forRows(h int, fn func(y0, y1 int)) {
	n := Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	var wg sync.WaitGroup
	for _, band := range splitRows(h, n) {
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			fn(y0, y1)
		}(band[0], band[1])
	}
	wg.Wait()
}
