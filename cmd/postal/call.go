package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danmuck/postal/internal/config"
	"github.com/danmuck/postal/internal/protocol/codec"
	"github.com/danmuck/postal/internal/protocol/schema"
	"github.com/danmuck/postal/internal/protocol/session"
	"github.com/spf13/cobra"
)

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <kind> [field=value ...]",
		Short: "Send one request and print the response",
		Long: `call encodes one request from field=value pairs and prints the decoded
response as JSON. Values are read as JSON when they parse as JSON, except
for string and bytes fields, which take the text verbatim:

  postal call SetStrings 'KeyValuePairs=[{"Key":"a","Value":"1"}]'
  postal call GetStrings 'Names=["a"]'`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCall,
	}
	cmd.Flags().String("config", "", "client config file (TOML)")
	cmd.Flags().String("addr", "", "override the server address")
	cmd.Flags().String("idl", "", "override the IDL file (default: built-in key/value contract)")
	cmd.Flags().String("json", "", "request fields as one JSON object, merged under field=value pairs")
	cmd.Flags().Duration("timeout", 0, "override the call timeout")
	return cmd
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := clientConfig(cmd)
	if err != nil {
		return err
	}
	_, reg, err := compile(cfg.IDLPath, cfg.Unit)
	if err != nil {
		return report(cmd, cfg.IDLPath, err)
	}

	kind := args[0]
	m, ok := reg.Message(kind)
	if !ok || m.Request == nil {
		return fmt.Errorf("unknown request kind %q", kind)
	}
	raw, _ := cmd.Flags().GetString("json")
	in, err := parseAssignments(m.Request, raw, args[1:])
	if err != nil {
		return err
	}
	req, err := codec.Coerce(m.Request, in)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
	defer cancel()
	conn, err := session.Dial(ctx, cfg.Addr, cfg.Transport)
	if err != nil {
		return err
	}
	client := session.NewClient(conn, reg, session.WithClientLimits(cfg.Transport.Limits))
	defer client.Close()

	// The client stream has no ctx; bound the exchange with a deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	resp, err := client.Send(ctx, kind, req)
	if err != nil {
		return err
	}
	if m.OneWay() {
		_, good := palette(cmd)
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (no response)\n", good.Sprint("sent"), kind)
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func clientConfig(cmd *cobra.Command) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadClientConfig(path)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	} else if cmd.Root().PersistentFlags().Changed("unit") {
		cfg.Unit = unitFlag(cmd)
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Addr = addr
	}
	if path, _ := cmd.Flags().GetString("idl"); path != "" {
		cfg.IDLPath = path
	}
	if d, _ := cmd.Flags().GetDuration("timeout"); d > 0 {
		cfg.Timeout = d
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultClientConfig().Timeout
	}
	return cfg, config.ValidateClientConfig(cfg)
}

// parseAssignments merges a JSON object and field=value pairs into loosely
// typed input for codec.Coerce.
func parseAssignments(shape *schema.Shape, rawJSON string, pairs []string) (map[string]any, error) {
	out := make(map[string]any)
	if strings.TrimSpace(rawJSON) != "" {
		dec := json.NewDecoder(strings.NewReader(rawJSON))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("parse --json: %w", err)
		}
	}
	for _, pair := range pairs {
		name, text, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q is not field=value", pair)
		}
		f, ok := shape.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("%s has no field %q", shape.Name, name)
		}
		if !f.Repeated && (f.Kind == schema.KindString || f.Kind == schema.KindBytes) {
			out[name] = text
			continue
		}
		out[name] = jsonOrText(text)
	}
	return out, nil
}

func jsonOrText(text string) any {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return text
	}
	return v
}
