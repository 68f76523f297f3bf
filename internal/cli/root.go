// Пакет cli — утилита обслуживания Record Module (recordctl).
// Работает с теми же хранилищами, что и сервис, и читает те же
// переменные окружения RM_*, кроме параметров JWT и HTTP-сервера.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions — глобальные флаги всех команд.
type RootOptions struct {
	Verbose bool
	// Format — формат вывода: text или json
	Format string
	// Backends — доступ к хранилищам
	Backends *Backends
}

// ValidFormats — допустимые форматы вывода.
var ValidFormats = []string{"text", "json"}

// NewRootCommand создаёт корневую команду recordctl.
// При backends == nil хранилища открываются по переменным окружения.
func NewRootCommand(backends *Backends) *cobra.Command {
	if backends == nil {
		backends = EnvBackends()
	}
	opts := &RootOptions{Backends: backends}

	cmd := &cobra.Command{
		Use:   "recordctl",
		Short: "Обслуживание Record Module",
		Long: `recordctl — утилита обслуживания Record Module.

Применяет миграции, показывает журнал происхождения записи и сверяет
его с внешним реестром. Конфигурация берётся из переменных окружения RM_*.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("недопустимый формат %q, допустимые: %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "подробный вывод")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "формат вывода (text|json)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))

	return cmd
}
