// Package main provides the entry point for oosim.
// oosim replays a trace of memory operations through a cycle-level
// out-of-order load/store unit model and reports ordering statistics.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xyproto/env/v2"

	"github.com/sarchlab/oosim/timing/core"
	"github.com/sarchlab/oosim/timing/lsq"
	"github.com/sarchlab/oosim/timing/mem"
	"github.com/sarchlab/oosim/timing/sched"
)

var (
	configPath = flag.String("config", "",
		"Path to scheduling model JSON file")
	lqSize = flag.Int("lq", 0,
		"Load queue size (overrides the scheduling model; 0 = derive)")
	sqSize = flag.Int("sq", 0,
		"Store queue size (overrides the scheduling model; 0 = derive)")
	noAlias = flag.Bool("noalias", false,
		"Assume accesses without address metadata never alias")
	useDCache = flag.Bool("dcache", false,
		"Model L1D latency for loads with known addresses")
	maxCycles = flag.Uint64("max-cycles", 10_000_000,
		"Cycle limit (0 = unlimited)")
	verbose = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	tracePath := env.Str("OOSIM_TRACE", "")
	if flag.NArg() >= 1 {
		tracePath = flag.Arg(0)
	}
	if tracePath == "" {
		fmt.Fprintf(os.Stderr, "Usage: oosim [options] <trace-file>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	program, err := loadTrace(tracePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading trace: %v\n", err)
		os.Exit(1)
	}

	path := *configPath
	if path == "" {
		path = env.Str("OOSIM_SCHED_CONFIG", "")
	}
	model := sched.DefaultModel()
	if path != "" {
		model, err = sched.LoadModel(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading scheduling model: %v\n", err)
			os.Exit(1)
		}
		if err := model.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid scheduling model: %v\n", err)
			os.Exit(1)
		}
	}

	if *verbose {
		fmt.Printf("Loaded: %s (%d memory operations)\n",
			tracePath, len(program))
		fmt.Printf("Model: %s\n", model.Name)
	}

	metadata := lsq.NewMetadataRegistry()
	unitOpts := []lsq.UnitOption{
		lsq.WithQueueSizes(*lqSize, *sqSize),
		lsq.WithSchedModel(model),
		lsq.WithMetadataRegistry(metadata),
	}
	if *noAlias {
		unitOpts = append(unitOpts, lsq.WithAssumeNoAlias())
	}
	unit := lsq.NewUnit(unitOpts...)

	var driverOpts []core.DriverOption
	if *useDCache {
		driverOpts = append(driverOpts, core.WithDCache(mem.DefaultL1DConfig()))
	}
	driver := core.NewDriverWithUnit(unit, metadata, program, driverOpts...)

	if !driver.Run(*maxCycles) {
		fmt.Fprintf(os.Stderr,
			"Error: cycle limit of %d reached before the trace drained\n",
			*maxCycles)
		os.Exit(2)
	}

	printReport(driver, tracePath)
}

func printReport(driver *core.Driver, tracePath string) {
	stats := driver.Stats()
	unit := driver.Unit()

	fmt.Printf("\n")
	fmt.Printf("Trace: %s\n", tracePath)
	fmt.Printf("Total Operations: %d\n", stats.Retired)
	fmt.Printf("Total Cycles: %d\n", stats.Cycles)
	fmt.Printf("Ops/Cycle: %.2f\n", stats.IPC())
	fmt.Printf("\n")
	fmt.Printf("Memory Ordering:\n")
	fmt.Printf("  Groups formed:       %d\n", stats.GroupsFormed)
	fmt.Printf("  Load queue stalls:   %d\n", stats.LoadQueueStalls)
	fmt.Printf("  Store queue stalls:  %d\n", stats.StoreQueueStalls)
	fmt.Printf("  Load queue size:     %d\n", unit.LoadQueueSize())
	fmt.Printf("  Store queue size:    %d\n", unit.StoreQueueSize())

	if *useDCache {
		cs := driver.DCacheStats()
		fmt.Printf("\n")
		fmt.Printf("L1D:\n")
		fmt.Printf("  Accesses: %d\n", cs.Accesses)
		fmt.Printf("  Hits:     %d\n", cs.Hits)
		fmt.Printf("  Misses:   %d\n", cs.Misses)
	}
}

// loadTrace parses a memory-op trace. One op per line:
//
//	L [addr [size]]   load
//	S [addr [size]]   store
//	LB                load barrier
//	SB                store barrier
//
// Addresses accept 0x prefixes; size defaults to 8 bytes. Ops without an
// address carry no metadata, so aliasing is assumed for them. '#' starts a
// comment.
func loadTrace(path string) ([]core.MemOp, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	var program []core.MemOp
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		var op core.MemOp
		switch strings.ToUpper(fields[0]) {
		case "L":
			op.Kind = core.Load
		case "S":
			op.Kind = core.Store
		case "LB":
			op.Kind = core.LoadBarrier
		case "SB":
			op.Kind = core.StoreBarrier
		default:
			return nil, fmt.Errorf("line %d: unknown op %q", lineNo, fields[0])
		}

		if len(fields) >= 2 {
			addr, err := strconv.ParseUint(fields[1], 0, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad address %q: %w",
					lineNo, fields[1], err)
			}
			op.Addr = addr
			op.Size = 8
			op.HasAddr = true
		}
		if len(fields) >= 3 {
			size, err := strconv.ParseUint(fields[2], 0, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad size %q: %w",
					lineNo, fields[2], err)
			}
			op.Size = size
		}

		program = append(program, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}

	return program, nil
}
