package main

import (
	"fmt"

	"github.com/danmuck/postal/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate server and client config files",
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			force, _ := cmd.Flags().GetBool("force")
			path := "postal." + kind + ".toml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", kind, path)
			return nil
		},
	}
	initCmd.Flags().String("kind", config.KindServer, "config kind (server|client)")
	initCmd.Flags().Bool("force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Load a config file and report the first problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			if err := config.Validate(args[0], kind); err != nil {
				return report(cmd, args[0], err)
			}
			_, good := palette(cmd)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s config %s\n", good.Sprint("valid"), kind, args[0])
			return nil
		},
	}
	validateCmd.Flags().String("kind", config.KindServer, "config kind (server|client)")

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
