package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"chanrelay/internal/config"
)

// CheckResult reports whether the effective configuration is usable.
type CheckResult struct {
	Valid  bool   `json:"valid"`
	Source string `json:"source"`
	Error  string `json:"error,omitempty"`
}

// NewCheckCommand validates the merged file, dotenv and environment config without connecting anywhere.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "check",
		Short:        "Validate configuration and exit",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := CheckResult{Valid: true, Source: rootOpts.ConfigPath}
			if res.Source == "" {
				res.Source = "environment"
			}
			cfg, err := config.NewConfigManager(rootOpts.ConfigPath).Load()
			if err == nil {
				err = config.Validate(cfg)
			}
			if err != nil {
				res.Valid = false
				res.Error = err.Error()
			}

			if rootOpts.Format == "json" {
				if encErr := json.NewEncoder(cmd.OutOrStdout()).Encode(res); encErr != nil {
					return encErr
				}
			} else if res.Valid {
				fmt.Fprintf(cmd.OutOrStdout(), "config ok (%s)\n", res.Source)
			}
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return nil
		},
	}
}
