package driver

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// NDRange is the index space of a kernel launch. Unused dimensions are 1.
type NDRange struct {
	Dims    int
	Global  [3]int
	Local   [3]int
	// Workers caps the goroutines of ParallelFor; 0 means GOMAXPROCS.
	Workers int
}

// NewNDRange builds a range from global and optional local sizes. An empty
// local size lets the driver choose.
func NewNDRange(global, local []int) (NDRange, error) {
	const op = "clEnqueueNDRangeKernel"
	if len(global) == 0 || len(global) > 3 {
		return NDRange{}, &Error{Code: InvalidValue, Op: op, Err: fmt.Errorf("%d dimensions", len(global))}
	}
	if len(local) != 0 && len(local) != len(global) {
		return NDRange{}, &Error{Code: InvalidWorkGroupSize, Op: op, Err: fmt.Errorf("local has %d dimensions, global has %d", len(local), len(global))}
	}
	r := NDRange{Dims: len(global), Global: [3]int{1, 1, 1}, Local: [3]int{1, 1, 1}}
	for i, g := range global {
		if g <= 0 {
			return NDRange{}, &Error{Code: InvalidValue, Op: op, Err: fmt.Errorf("global[%d] = %d", i, g)}
		}
		r.Global[i] = g
		if len(local) == 0 {
			continue
		}
		if local[i] <= 0 || g%local[i] != 0 {
			return NDRange{}, &Error{Code: InvalidWorkGroupSize, Op: op, Err: fmt.Errorf("local[%d] = %d does not divide %d", i, local[i], g)}
		}
		r.Local[i] = local[i]
	}
	return r, nil
}

// GlobalSize is the total number of work items.
func (r NDRange) GlobalSize() int {
	return r.Global[0] * r.Global[1] * r.Global[2]
}

// LocalSize is the number of work items of one work group.
func (r NDRange) LocalSize() int {
	return r.Local[0] * r.Local[1] * r.Local[2]
}

// Coords converts a linear work-item id into per-dimension ids, dimension 0
// varying fastest.
func (r NDRange) Coords(linear int) [3]int {
	x := linear % r.Global[0]
	y := (linear / r.Global[0]) % r.Global[1]
	z := linear / (r.Global[0] * r.Global[1])
	return [3]int{x, y, z}
}

// ParallelFor runs fn for every linear work-item id, splitting the range
// into contiguous chunks over r.Workers goroutines.
func (r NDRange) ParallelFor(fn func(gid int) error) error {
	total := r.GlobalSize()
	workers := r.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > total {
		workers = total
	}
	chunk := (total + workers - 1) / workers

	var g errgroup.Group
	for start := 0; start < total; start += chunk {
		start := start
		end := min(start+chunk, total)
		g.Go(func() error {
			for gid := start; gid < end; gid++ {
				if err := fn(gid); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
