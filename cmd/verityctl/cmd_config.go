package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aws-agent/verity/pkg/config"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and print the effective settings",
	RunE:  runCheckConfig,
}

var secretKeys = map[string]bool{
	"api_key":  true,
	"password": true,
}

func runCheckConfig(cmd *cobra.Command, _ []string) error {
	loader := config.NewLoader(configPath)
	if _, err := loader.Load(); err != nil {
		return err
	}

	out, err := yaml.Marshal(printable(loader.Settings()))
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	w := cmd.OutOrStdout()
	if file := loader.ConfigFile(); file != "" {
		fmt.Fprintf(w, "# source: %s\n", file)
	} else {
		fmt.Fprintln(w, "# source: defaults")
	}
	_, err = w.Write(out)
	return err
}

// printable redacts secrets and renders durations the way they are written.
func printable(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		switch val := v.(type) {
		case map[string]any:
			out[k] = printable(val)
		case time.Duration:
			out[k] = val.String()
		case string:
			if secretKeys[k] && val != "" {
				out[k] = "********"
			} else {
				out[k] = val
			}
		default:
			out[k] = v
		}
	}
	return out
}
