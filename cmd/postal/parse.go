package main

import (
	"encoding/json"
	"fmt"

	"github.com/danmuck/postal/internal/idl"
	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"
)

// definitionDump tags every declaration with its variant so the model can
// be read back without Go types.
type definitionDump struct {
	Namespace string     `json:"namespace"`
	Decls     []declDump `json:"decls"`
}

type declDump struct {
	Kind string   `json:"kind"`
	Decl idl.Decl `json:"decl"`
}

func dumpDefinition(def *idl.Definition) definitionDump {
	out := definitionDump{Namespace: def.Namespace, Decls: make([]declDump, 0, len(def.Decls))}
	for _, d := range def.Decls {
		out.Decls = append(out.Decls, declDump{Kind: d.Kind().String(), Decl: d})
	}
	return out
}

func newParseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse an IDL file and print its declaration model",
		Long:  `parse prints the declarations in source order. It does not resolve type references.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runParse,
	}
	cmd.Flags().String("format", "json", "output format (json|msgpack)")
	return cmd
}

func runParse(cmd *cobra.Command, args []string) error {
	path := args[0]
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}

	def, err := idl.ParseFile(path)
	if err != nil {
		return report(cmd, path, err)
	}
	dump := dumpDefinition(def)

	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(dump)
	case "msgpack":
		enc := msgpack.NewEncoder(cmd.OutOrStdout())
		enc.SetCustomStructTag("json")
		return enc.Encode(dump)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}
