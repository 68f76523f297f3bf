package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewMigrateCommand создаёт команду применения миграций PostgreSQL.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции БД",
		Long: `Применяет встроенные SQL-миграции к PostgreSQL (RM_DB_*).
Сервис применяет их сам при старте; команда нужна для подготовки БД заранее.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := commandLogger(cmd, rootOpts.Verbose)
			if err := rootOpts.Backends.Migrate(cmd.Context(), logger); err != nil {
				return WrapExitError(ExitCommandError, "миграции не применены", err)
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), "ok", nil)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Миграции применены")
			return nil
		},
	}
}
