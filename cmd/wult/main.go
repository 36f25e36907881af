// wult — CPU wake-up and interrupt latency measurement tool.
//
// Drives a kernel or fixture raw-datapoint producer through the
// TSC-rate/classification/overhead-compensation pipeline and writes a
// CSV+YAML result directory, the same way every invocation of the
// original Python tool does.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitriimaksimovdevelop/wult/internal/cstate"
	"github.com/dmitriimaksimovdevelop/wult/internal/dpprocess"
	"github.com/dmitriimaksimovdevelop/wult/internal/ebpf"
	"github.com/dmitriimaksimovdevelop/wult/internal/filtersink"
	"github.com/dmitriimaksimovdevelop/wult/internal/mcp"
	"github.com/dmitriimaksimovdevelop/wult/internal/model"
	"github.com/dmitriimaksimovdevelop/wult/internal/observer"
	"github.com/dmitriimaksimovdevelop/wult/internal/rawsource"
	"github.com/dmitriimaksimovdevelop/wult/internal/resultdiff"
	"github.com/dmitriimaksimovdevelop/wult/internal/resultwriter"
	"github.com/dmitriimaksimovdevelop/wult/internal/runloop"
	"github.com/dmitriimaksimovdevelop/wult/internal/tscrate"
)

var version = "0.1.0"

// defaultCStates is used when --cstates is not given. Device discovery
// against the OS idle subsystem is out of scope (see SPEC_FULL.md's
// Non-goals); callers on a real platform pass --cstates explicitly.
var defaultCStates = map[int]string{0: "POLL", 1: "C1", 2: "C1E", 3: "C6"}

// latencyDefs marks the three compensated-latency fields as
// microseconds, grounded on dpprocess's own test fixtures' usDefs.
func latencyDefs() model.Definitions {
	return model.Definitions{
		"SilentTime":  {Type: "float", Unit: "microsecond"},
		"WakeLatency": {Type: "float", Unit: "microsecond"},
		"IntrLatency": {Type: "float", Unit: "microsecond"},
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "wult",
		Short:   "CPU wake-up and interrupt latency measurement tool",
		Long:    `wult — single Go binary measuring the latency between a requested C-state's wake event and the CPU actually resuming execution.`,
		Version: version,
	}

	rootCmd.AddCommand(newStartCmd(), newShowCmd(), newDiffCmd(), newMCPCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// --- start ---

func newStartCmd() *cobra.Command {
	var (
		backend        string
		outdir         string
		count          int
		timeoutStr     string
		perDPTimeout   string
		mountPoint     string
		helperTool     string
		ldistNs        int64
		earlyIntr      bool
		cstatesFlag    string
		includeExpr    string
		excludeExpr    string
		keepFiltered   bool
		quiet          bool
		probeTool      string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run a wake-latency measurement and write a result directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := newCLIBackend(backend, mountPoint, helperTool, ldistNs)
			if err != nil {
				return err
			}

			dirMap := defaultCStates
			if cstatesFlag != "" {
				dirMap, err = parseCStates(cstatesFlag)
				if err != nil {
					return err
				}
			}
			dir, err := cstate.NewCStateDirectory(dirMap)
			if err != nil {
				return err
			}
			cls := cstate.NewClassifier(dir, earlyIntr)
			est := tscrate.NewEstimator(src.TscNative(), tscrate.DefaultHoldNs)
			xform := dpprocess.NewTransformer(est, latencyDefs(), false)
			sink := filtersink.New(includeExpr, excludeExpr, keepFiltered)

			if outdir == "" {
				outdir = fmt.Sprintf("wult-results-%d", os.Getpid())
			}
			info := model.InfoSidecar{
				ToolName: "wult", ToolVer: version, FormatVersion: model.FormatVersion, EarlyIntr: earlyIntr,
			}
			if debugfsSrc, ok := src.(*rawsource.DebugfsSource); ok && probeTool != "" {
				devInfo, err := debugfsSrc.ProbeDevice(context.Background(), probeTool, nil, 5*time.Second)
				if err != nil {
					return fmt.Errorf("probing device info: %w", err)
				}
				info.DevID, info.DevDescr, info.Resolution = devInfo.DevID, devInfo.DevDescr, devInfo.Resolution
			}
			rw, err := resultwriter.New(outdir, info)
			if err != nil {
				return err
			}

			cfg := runloop.DefaultConfig()
			cfg.Count = count
			cfg.ProgressEnabled = !quiet
			if timeoutStr != "" {
				d, err := time.ParseDuration(timeoutStr)
				if err != nil {
					return fmt.Errorf("invalid --timeout: %w", err)
				}
				cfg.Timeout = d
			}
			if perDPTimeout != "" {
				d, err := time.ParseDuration(perDPTimeout)
				if err != nil {
					return fmt.Errorf("invalid --per-dp-timeout: %w", err)
				}
				cfg.PerDatapointTimeout = d
			}

			loop := runloop.New(src, est, cls, xform, sink, rw, observer.NewPIDTracker(), cfg)
			result, err := loop.Run(context.Background())
			if errors.Is(err, runloop.ErrInterrupted) && result.Collected > 0 {
				fmt.Fprintf(os.Stdout, "interrupted after %d datapoints, result: %s\n", result.Collected, outdir)
				os.Exit(130)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "collected %d datapoints in %s (max latency %.2f us), result: %s\n",
				result.Collected, result.Duration.Round(time.Millisecond), result.MaxLatency, outdir)
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "fixture", "Raw source backend: fixture, debugfs, or native")
	cmd.Flags().StringVarP(&outdir, "outdir", "o", "", "Result directory (default: wult-results-<pid>)")
	cmd.Flags().IntVarP(&count, "count", "c", 0, "Target datapoint count (0 = unlimited)")
	cmd.Flags().StringVar(&timeoutStr, "timeout", "", "Wall-clock limit (e.g. 30s, 5m)")
	cmd.Flags().StringVar(&perDPTimeout, "per-dp-timeout", "", "Producer watchdog interval (default 10s)")
	cmd.Flags().StringVar(&mountPoint, "mount-point", "/sys/kernel/debug/wult", "debugfs backend: producer mount point")
	cmd.Flags().StringVar(&helperTool, "helper", "wult-helper", "debugfs backend: helper binary name")
	cmd.Flags().Int64Var(&ldistNs, "ldist", 0, "debugfs backend: desired launch distance in nanoseconds")
	cmd.Flags().BoolVar(&earlyIntr, "early-intr", false, "Force every C-state to IntrOff=false")
	cmd.Flags().StringVar(&cstatesFlag, "cstates", "", "C-state directory as idx:name,idx:name (default: 0:POLL,1:C1,2:C1E,3:C6)")
	cmd.Flags().StringVar(&includeExpr, "include", "", "Only keep datapoints matching this expression")
	cmd.Flags().StringVar(&excludeExpr, "exclude", "", "Drop datapoints matching this expression")
	cmd.Flags().BoolVar(&keepFiltered, "keep-filtered", false, "Write every row regardless of the include/exclude verdict")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress the progress line")
	cmd.Flags().StringVar(&probeTool, "probe-tool", "", "debugfs backend: optional helper binary to run once before streaming, for device identification (devid/devdescr/resolution_nsec output)")

	return cmd
}

func newCLIBackend(name, mountPoint, helperTool string, ldistNs int64) (rawsource.RawSource, error) {
	switch name {
	case "", "fixture":
		return rawsource.NewFixtureSource(demoDatapoints(), false), nil
	case "debugfs":
		return rawsource.NewDebugfsSource(mountPoint, helperTool, nil, ldistNs, nil), nil
	case "native":
		return rawsource.NewNativeSource(ebpf.NativePrograms[0], false), nil
	default:
		return nil, fmt.Errorf("unknown --backend %q (want fixture, debugfs, or native)", name)
	}
}

// demoDatapoints replays the same known-surviving fixture rows as the
// MCP surface's measure_wake_latency tool, so `wult start --backend
// fixture` is a usable demo with no kernel producer available.
func demoDatapoints() []model.RawDatapoint {
	return mcp.DemoFixtureDatapoints()
}

func parseCStates(s string) (map[int]string, error) {
	out := make(map[int]string)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("bad --cstates entry %q (want idx:name)", pair)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil {
			return nil, fmt.Errorf("bad --cstates index %q: %w", kv[0], err)
		}
		out[idx] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

// --- show ---

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <result-dir>",
		Short: "Print a result directory's sidecar metadata and row count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := resultwriter.Read(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("tool:      %s %s\n", res.Info.ToolName, res.Info.ToolVer)
			fmt.Printf("format:    %s\n", res.Info.FormatVersion)
			fmt.Printf("reportid:  %s\n", res.Info.ReportID)
			fmt.Printf("duration:  %s\n", res.Info.Duration)
			fmt.Printf("columns:   %s\n", strings.Join(res.Header, ", "))
			fmt.Printf("rows:      %d\n", len(res.Rows))
			if res.Info.Overhead != nil {
				fmt.Printf("overhead:  cpu_user=%dms cpu_sys=%dms rss=%dB ctxsw=%d\n",
					res.Info.Overhead.CPUUserMs, res.Info.Overhead.CPUSystemMs,
					res.Info.Overhead.MemoryRSSBytes, res.Info.Overhead.ContextSwitches)
			}
			return nil
		},
	}
	return cmd
}

// --- diff ---

func newDiffCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "diff <baseline-dir> <current-dir>",
		Short: "Compare two result directories' per-C-state latency statistics",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := resultdiff.Compare(args[0], args[1])
			if err != nil {
				return err
			}
			if outputPath == "" || outputPath == "-" {
				fmt.Print(resultdiff.FormatDiff(report))
				return nil
			}
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			return os.WriteFile(outputPath, data, 0644)
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "-", "Output path for a JSON diff (- for a human-readable table on stdout)")
	return cmd
}

// --- mcp ---

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start a Model Context Protocol server over stdio",
		Long: `Starts a JSON-RPC server implementing the Model Context Protocol (MCP).
This allows AI agents to drive wake-latency measurements and read back
results interactively.

Communication happens over standard input/output (stdio).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcp.NewServer(version)
			return srv.Start(ctx)
		},
	}
}
