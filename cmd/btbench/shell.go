package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tgc/tpie/btree"
)

// newShellCmd reads commands from stdin and runs them against an
// anonymous tree:
//
//	insert K...    insert each key
//	erase K...     erase each key
//	dump           print the tree contents in order
func newShellCmd() *cobra.Command {
	var nodeMax, leafMax uint64

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive insert/erase/dump driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := btree.OpenTemp(btree.Uint64Traits(), btree.WithLogger(logger))
			if err != nil {
				return err
			}
			defer t.Close()

			if nodeMax > 0 || leafMax > 0 {
				p := t.Parameters()
				if nodeMax > 0 {
					p.NodeMax = nodeMax
					p.NodeMin = (nodeMax + 6) / 4
				}
				if leafMax > 0 {
					p.LeafMax = leafMax
					p.LeafMin = (leafMax + 6) / 4
				}
				if err := t.SetParameters(p); err != nil {
					return err
				}
			}

			return runShell(t, os.Stdin)
		},
	}
	cmd.Flags().Uint64Var(&nodeMax, "node-max", 0, "override maximum node degree")
	cmd.Flags().Uint64Var(&leafMax, "leaf-max", 0, "override maximum leaf size")
	return cmd
}

func runShell(t *btree.Tree[uint64, uint64], in *os.File) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch cmd := fields[0]; cmd {
		case "insert", "erase":
			for _, f := range fields[1:] {
				k, err := strconv.ParseUint(f, 10, 64)
				if err != nil {
					fmt.Fprintf(os.Stderr, "bad key %q\n", f)
					continue
				}
				if cmd == "insert" {
					err = t.Insert(k)
				} else {
					err = t.Erase(k)
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s %d: %v\n", cmd, k, err)
				}
			}
		case "dump":
			first := true
			err := t.InOrderDump(func(v uint64) {
				if !first {
					fmt.Print(" ")
				}
				first = false
				fmt.Print(v)
			})
			fmt.Println()
			if err != nil {
				return err
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		}
	}
	return sc.Err()
}
