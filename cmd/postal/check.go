package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Parse, validate and assign tags for an IDL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			_, reg, err := compile(path, unitFlag(cmd))
			if err != nil {
				return report(cmd, path, err)
			}
			_, good := palette(cmd)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s.%s: %d messages, fingerprint %s\n",
				good.Sprint("ok"), reg.Namespace(), reg.Unit(), len(reg.Messages()), reg.FingerprintHex())
			return nil
		},
	}
}

func newTagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags [file]",
		Short: "List the wire tag of every message kind",
		Long:  `tags prints one row per message. Without a file it lists the built-in key/value contract.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTags,
	}
	cmd.Flags().Bool("json", false, "print the full schema description as JSON")
	return cmd
}

func runTags(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	}
	_, reg, err := compile(path, unitFlag(cmd))
	if err != nil {
		return report(cmd, path, err)
	}

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(reg.Describe())
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TAG\tKIND\tEXCHANGE\tQUALIFIED")
	for _, m := range reg.Messages() {
		exchange := "request/response"
		switch {
		case m.Request == nil && m.Response == nil:
			exchange = "none"
		case m.Request == nil:
			exchange = "response only"
		case m.OneWay():
			exchange = "one-way"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", m.Tag, m.Name, exchange, m.Qualified)
	}
	return tw.Flush()
}
