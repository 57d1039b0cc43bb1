package main

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tgc/tpie/blocks"
)

// newBitmapCmd runs a free-space bitmap churn test: a push/pop pattern
// of allocations whose direction is modulated by a cosine over the
// operation counter, so the live set repeatedly grows toward --size and
// drains again.
func newBitmapCmd() *cobra.Command {
	var (
		ops    int
		size   int
		repeat int
		seed   int64
	)

	cmd := &cobra.Command{
		Use:   "bitmap",
		Short: "Free-space bitmap speed test",
		RunE: func(cmd *cobra.Command, args []string) error {
			for r := 0; r < repeat; r++ {
				elapsed, err := bitmapChurn(ops, size, seed+int64(r))
				if err != nil {
					return err
				}
				fmt.Printf("run %d: %d ops in %v (%.0f ns/op)\n",
					r, ops, elapsed, float64(elapsed.Nanoseconds())/float64(ops))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&ops, "ops", 1000000, "number of alloc/free operations")
	cmd.Flags().IntVar(&size, "size", 1000, "target live-set size")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "number of timed runs")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	return cmd
}

func bitmapChurn(ops, size int, seed int64) (time.Duration, error) {
	f, err := os.CreateTemp("", "tpie-bitmap-*")
	if err != nil {
		return 0, err
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	col, err := blocks.Open(path, true, blocks.WithLogger(logger))
	if err != nil {
		return 0, err
	}
	defer col.Close()

	rnd := rand.New(rand.NewSource(seed))
	handles := make([]blocks.Handle, 0, ops)
	first, last := 0, 0

	start := time.Now()
	for i := 0; i < ops; i++ {
		grow := first == last ||
			(first+size > last && rnd.Float64()*2-1 <= math.Cos(float64(i)*60/float64(size)))
		if grow {
			h, err := col.Allocate()
			if err != nil {
				return 0, err
			}
			handles = append(handles, h)
			last++
		} else {
			if err := col.Free(handles[first]); err != nil {
				return 0, err
			}
			first++
		}
	}
	for first < last {
		if err := col.Free(handles[first]); err != nil {
			return 0, err
		}
		first++
	}
	return time.Since(start), nil
}
