// Command boxlock is the isolate-style box-lock broker's command-line
// entry point: it sequences argument parsing into a driver.Params and
// reports the resulting exit code, grounded on podman's cmd/podman/root.go
// and cmd/podman/save.go (cobra root command with persistent init hooks,
// flags registered in a plain init(), RunE delegating to a free function).
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sandboxhost/boxlock/internal/boxerrors"
	"github.com/sandboxhost/boxlock/internal/config"
	"github.com/sandboxhost/boxlock/internal/driver"
	"github.com/sandboxhost/boxlock/internal/logging"
)

const usageTemplate = `Usage: boxlock [-l|--lock] [<options>] [--] [<box_id(s)>] [<sandbox-init-options>]
       boxlock (-f|--free) [--] <box_id(s)> [<sandbox-cleanup-options>]

Options:
  -l, --lock          Acquires a lock on a box_id (default); finds an
                       unused box_id if none is specified and prints the
                       acquired box_id to stdout on success
  -f, --free          Release locks on box_id(s), printing each id freed
  -n <N>              Acquire locks for <N> boxes (only without <box_id(s)>)
  -t, --timeout=<T>   Timeout in seconds; 0 blocks indefinitely, negative
                       does not block
      --noinit        Skip sandbox initialization after locking
      --config <path> Path to an optional YAML configuration file
      --log-level <l> Log level for diagnostics (default "warn")
  --                  Stop parsing options

Arguments:
  <box_id(s)>               List of boxes, as separate arguments
  <sandbox-init-options>    Options passed through to the sandbox tool's --init
  <sandbox-cleanup-options> Options passed through to the sandbox tool's --cleanup

Examples:
  boxlock -l 4 6
      Acquires a lock on box_id=4 and box_id=6
  boxlock -f 4 6
      Releases a previous lock on box_id=4 and box_id=6
  boxlock > box_id.txt
      Acquires a lock on an unused box_id, saves it into box_id.txt
  boxlock -n 4
      Acquires locks on 4 different box_ids, blocking indefinitely
  boxlock -n4 -t=-1
      Acquires locks on 4 different box_ids, without blocking
`

var (
	flagLock     bool
	flagFree     bool
	flagCount    int
	flagTimeout  float64
	flagNoInit   bool
	flagConfig   string
	flagLogLevel string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "boxlock",
		Short:         "Arbitrate exclusive access to a pool of sandbox boxes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runE,
	}
	cmd.SetUsageTemplate(usageTemplate)

	flags := cmd.Flags()
	flags.BoolVarP(&flagLock, "lock", "l", false, "lock mode (default)")
	flags.BoolVarP(&flagFree, "free", "f", false, "free mode")
	flags.IntVarP(&flagCount, "count", "n", 1, "count of boxes to lock")
	flags.Float64VarP(&flagTimeout, "timeout", "t", 0, "timeout in seconds; 0 blocks, negative does not block")
	flags.BoolVar(&flagNoInit, "noinit", false, "skip sandbox --init after locking")
	flags.StringVar(&flagConfig, "config", "/etc/boxlock/config.yaml", "path to an optional YAML configuration file")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level for diagnostics")

	return cmd
}

func runE(cmd *cobra.Command, args []string) error {
	boxIDs, passThrough, err := splitPositional(args)
	if err != nil {
		cmd.SilenceUsage = false
		return err
	}

	mode := driver.ModeLock
	if flagFree {
		mode = driver.ModeFree
	}

	cfg, err := config.Load(flagConfig, config.Config{LogLevel: flagLogLevel})
	if err != nil {
		return err
	}

	log, err := logging.Configure(cfg.LogLevel)
	if err != nil {
		return err
	}

	params := driver.Params{
		Mode:            mode,
		BoxIDs:          boxIDs,
		Count:           flagCount,
		Timeout:         flagTimeout,
		NoInit:          flagNoInit,
		PassThroughOpts: passThrough,
	}

	code := driver.Run(context.Background(), cfg, params, os.Stdout, os.Stderr, log)
	if code != boxerrors.ExitOK {
		os.Exit(code)
	}
	return nil
}

// splitPositional divides the positional arguments into the leading run of
// plain box-id tokens and the trailing run of pass-through options,
// mirroring the original getopt_long-based CLI's convention: once a token
// starting with '-' is seen, it and everything after it belongs to the
// pass-through option list, never to the box-id list.
func splitPositional(args []string) (boxIDs []int, passThrough []string, err error) {
	i := 0
	for ; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			break
		}
		id, convErr := strconv.Atoi(args[i])
		if convErr != nil {
			return nil, nil, fmt.Errorf("%q is not a valid box id", args[i])
		}
		boxIDs = append(boxIDs, id)
	}
	passThrough = append(passThrough, args[i:]...)
	return boxIDs, passThrough, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(boxerrors.ExitUsage)
	}
}
