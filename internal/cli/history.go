package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/record-module/internal/domain/provenance"
	"github.com/bigkaa/goartstore/record-module/internal/repository"
)

// HistoryOptions — флаги команды history.
type HistoryOptions struct {
	*RootOptions
	Limit int
}

// NewHistoryCommand создаёт команду вывода журнала происхождения записи.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <record-id>",
		Short: "Журнал происхождения записи",
		Long: `Выводит журнал происхождения записи, начиная с самого свежего события.
Читает хранилище напрямую, без проверки прав.

Примеры:
  recordctl history P-100
  recordctl history P-100 --limit 5 --format json`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "максимум событий (0 — все)")
	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions, recordID string) error {
	logger := commandLogger(cmd, opts.Verbose)
	records, closeRecords, err := opts.Backends.OpenRecords(cmd.Context(), logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "хранилище записей недоступно", err)
	}
	defer closeRecords()

	rec, err := records.Get(cmd.Context(), recordID)
	if errors.Is(err, repository.ErrNotFound) {
		return WrapExitError(ExitCommandError, fmt.Sprintf("запись %q не найдена", recordID), err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "ошибка чтения записи", err)
	}

	entries := rec.History.Entries()
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	if opts.Format == "json" {
		envs := make([]provenance.Envelope, len(entries))
		for i, e := range entries {
			envs[i] = provenance.ToEnvelope(e)
		}
		return writeJSON(cmd.OutOrStdout(), "ok", map[string]any{
			"recordId": rec.RecordID,
			"ownerId":  rec.OwnerID,
			"history":  envs,
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Запись %s, владелец %s, событий: %d\n\n", rec.RecordID, rec.OwnerID, rec.History.Len())
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tВРЕМЯ\tСОБЫТИЕ\tУЧАСТНИК\tФАЙЛ")
	for _, e := range entries {
		env := provenance.ToEnvelope(e)
		file := env.FileName
		if env.FileID != "" {
			file = fmt.Sprintf("%s (%s)", env.FileName, env.FileID)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			e.Seq, e.Timestamp.UTC().Format(time.RFC3339), e.Kind(), participant(e), file)
	}
	return tw.Flush()
}

// participant — участник события для текстового вывода.
func participant(e provenance.Entry) string {
	if ev, ok := e.Event.(provenance.OwnershipTransferred); ok {
		return ev.By + " → " + ev.To
	}
	return provenance.Actor(e.Event)
}
