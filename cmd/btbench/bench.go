package main

import (
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/spf13/cobra"

	"github.com/tgc/tpie/btree"
)

// benchIndex is the operation surface the workloads drive; implemented
// by the external-memory tree and by a pebble LSM for comparison.
type benchIndex interface {
	Insert(key uint64) error
	Has(key uint64) (bool, error)
	Dump() (int, error)
	Close() error
}

func newBenchCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Workload benchmark: B+ tree vs pebble",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runBench(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	return cmd
}

func runBench(cfg benchConfig) error {
	f, err := os.Create(cfg.CSV)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	w.Write([]string{"Structure", "Config", "TestType", "LatencyNs", "MemMB", "HeapObjects"})

	results := make(map[string][]benchResult)

	bt, err := openTreeIndex(cfg)
	if err != nil {
		return err
	}
	results["BPlusTree"], err = runSuite(w, "BPlusTree", strconv.Itoa(cfg.BlockSize), bt, cfg.Scale)
	closeErr := bt.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}

	lsm, err := openPebbleIndex()
	if err != nil {
		return err
	}
	results["Pebble"], err = runSuite(w, "Pebble", "lsm", lsm, cfg.Scale)
	closeErr = lsm.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if cfg.Plot != "" {
		if err := writeLatencyPlot(cfg.Plot, results); err != nil {
			return err
		}
	}
	fmt.Println("Benchmark complete:", cfg.CSV)
	return nil
}

type benchResult struct {
	Name      string
	Config    string
	Operation string
	LatencyNs int64
	MemMB     uint64
	Objects   uint64
}

type memoryStats struct {
	AllocMB     uint64
	HeapObjects uint64
}

// detailedMem forces a GC first so live data is measured, not garbage.
func detailedMem() memoryStats {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	return memoryStats{
		AllocMB:     m.Alloc / 1024 / 1024,
		HeapObjects: m.HeapObjects,
	}
}

func record(w *csv.Writer, res benchResult) {
	w.Write([]string{
		res.Name,
		res.Config,
		res.Operation,
		strconv.FormatInt(res.LatencyNs, 10),
		strconv.FormatUint(res.MemMB, 10),
		strconv.FormatUint(res.Objects, 10),
	})
}

func runSuite(w *csv.Writer, name, conf string, idx benchIndex, n int) ([]benchResult, error) {
	fmt.Printf("Testing %s (Config: %s)\n", name, conf)
	var out []benchResult

	// 1. Pure insert (initial load).
	start := time.Now()
	for k := 0; k < n; k++ {
		if err := idx.Insert(uint64(k)); err != nil {
			return nil, err
		}
	}
	stats := detailedMem()
	out = append(out, benchResult{name, conf, "Load", time.Since(start).Nanoseconds() / int64(n), stats.AllocMB, stats.HeapObjects})

	// 2. OLTP (read heavy, 90/10).
	start = time.Now()
	if err := executeWorkload(idx, 90, n/2); err != nil {
		return nil, err
	}
	out = append(out, benchResult{name, conf, "Workload_OLTP", time.Since(start).Nanoseconds() / int64(n/2), detailedMem().AllocMB, 0})

	// 3. OLAP (write heavy, 10/90).
	start = time.Now()
	if err := executeWorkload(idx, 10, n/2); err != nil {
		return nil, err
	}
	out = append(out, benchResult{name, conf, "Workload_OLAP", time.Since(start).Nanoseconds() / int64(n/2), detailedMem().AllocMB, 0})

	// 4. Full in-order scan.
	start = time.Now()
	count, err := idx.Dump()
	if err != nil {
		return nil, err
	}
	out = append(out, benchResult{name, conf, "Workload_Scan", time.Since(start).Nanoseconds() / int64(count+1), detailedMem().AllocMB, 0})

	for _, res := range out {
		record(w, res)
	}
	return out, nil
}

// executeWorkload runs ops mixed operations, readPct percent lookups and
// the rest inserts.
func executeWorkload(idx benchIndex, readPct, ops int) error {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < ops; i++ {
		key := uint64(rnd.Intn(ops))
		if rnd.Intn(100) < readPct {
			if _, err := idx.Has(key); err != nil {
				return err
			}
		} else if err := idx.Insert(key); err != nil {
			return err
		}
	}
	return nil
}

// ─── B+ tree adapter ──────────────────────────────────────────────────────────

type treeIndex struct {
	t *btree.Tree[uint64, uint64]
}

func openTreeIndex(cfg benchConfig) (*treeIndex, error) {
	t, err := btree.OpenTemp(btree.Uint64Traits(),
		btree.WithBlockSize(cfg.BlockSize), btree.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if cfg.NodeMax > 0 && cfg.LeafMax > 0 {
		if err := t.SetParameters(btree.Parameters{
			NodeMin: cfg.NodeMin, NodeMax: cfg.NodeMax,
			LeafMin: cfg.LeafMin, LeafMax: cfg.LeafMax,
		}); err != nil {
			t.Close()
			return nil, err
		}
	}
	return &treeIndex{t: t}, nil
}

func (ti *treeIndex) Insert(key uint64) error {
	if _, ok, err := ti.t.TryFind(key); err != nil || ok {
		return err
	}
	return ti.t.Insert(key)
}

func (ti *treeIndex) Has(key uint64) (bool, error) {
	_, ok, err := ti.t.TryFind(key)
	return ok, err
}

func (ti *treeIndex) Dump() (int, error) {
	n := 0
	err := ti.t.InOrderDump(func(uint64) { n++ })
	return n, err
}

func (ti *treeIndex) Close() error { return ti.t.Close() }

// ─── Pebble adapter ───────────────────────────────────────────────────────────

type pebbleIndex struct {
	db  *pebble.DB
	dir string
}

func openPebbleIndex() (*pebbleIndex, error) {
	dir, err := os.MkdirTemp("", "tpie-pebble-*")
	if err != nil {
		return nil, err
	}
	db, err := pebble.Open(dir, &pebble.Options{DisableWAL: true})
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return &pebbleIndex{db: db, dir: dir}, nil
}

func encodeKey(k uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, k) // big-endian so byte order matches key order
	return b
}

func (pi *pebbleIndex) Insert(key uint64) error {
	return pi.db.Set(encodeKey(key), nil, pebble.NoSync)
}

func (pi *pebbleIndex) Has(key uint64) (bool, error) {
	_, closer, err := pi.db.Get(encodeKey(key))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (pi *pebbleIndex) Dump() (int, error) {
	iter, err := pi.db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	if err := iter.Close(); err != nil {
		return n, err
	}
	return n, nil
}

func (pi *pebbleIndex) Close() error {
	err := pi.db.Close()
	os.RemoveAll(pi.dir)
	return err
}
