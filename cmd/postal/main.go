package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var version = "0.1.0-dev"

// errReported marks a failure whose diagnostics were already printed.
var errReported = errors.New("postal: failed")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "postal",
		Short:         "IDL compiler and TLV request/response runtime",
		Long:          `postal compiles message contracts, lists their wire tags, and serves or calls them over TCP.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("color", "auto", "colorize diagnostics (auto|on|off)")
	root.PersistentFlags().String("unit", "Messages", "compiled unit name used in qualified message names")

	root.AddCommand(newCheckCmd())
	root.AddCommand(newTagsCmd())
	root.AddCommand(newParseCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newCallCmd())
	root.AddCommand(newConfigCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "postal: %v\n", err)
		}
		os.Exit(1)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// palette returns the diagnostic colors honoring --color.
func palette(cmd *cobra.Command) (bad, good *color.Color) {
	bad = color.New(color.FgRed, color.Bold)
	good = color.New(color.FgGreen)
	mode, _ := cmd.Root().PersistentFlags().GetString("color")
	on := mode == "on" || (mode == "auto" && cmd.ErrOrStderr() == os.Stderr && isTerminal(os.Stderr))
	if on {
		bad.EnableColor()
		good.EnableColor()
	} else {
		bad.DisableColor()
		good.DisableColor()
	}
	return bad, good
}

func unitFlag(cmd *cobra.Command) string {
	unit, _ := cmd.Root().PersistentFlags().GetString("unit")
	return unit
}
