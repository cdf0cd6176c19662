package preview

import (
	"runtime"
	"sync"
)

// parallelRows calls fn(y) for every y in [0, rows) on up to GOMAXPROCS workers.
// Rows are striped across workers so uneven rows spread out.
func parallelRows(rows int, fn func(y int)) {
	if rows <= 0 {
		return
	}
	workers := min(runtime.GOMAXPROCS(0), rows)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := range workers {
		go func() {
			defer wg.Done()
			for y := w; y < rows; y += workers {
				fn(y)
			}
		}()
	}
	wg.Wait()
}
