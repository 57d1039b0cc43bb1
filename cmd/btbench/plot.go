package main

import (
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// writeLatencyPlot renders one line per structure across the benchmark
// phases (load, OLTP, OLAP, scan) with per-operation latency on Y.
func writeLatencyPlot(path string, results map[string][]benchResult) error {
	p := plot.New()
	p.Title.Text = "Per-operation latency"
	p.X.Label.Text = "phase"
	p.Y.Label.Text = "ns/op"

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	var args []interface{}
	for _, name := range names {
		pts := make(plotter.XYs, len(results[name]))
		for i, res := range results[name] {
			pts[i].X = float64(i)
			pts[i].Y = float64(res.LatencyNs)
		}
		args = append(args, name, pts)
	}
	if err := plotutil.AddLinePoints(p, args...); err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
