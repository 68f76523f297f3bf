package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
	"github.com/bigkaa/goartstore/record-module/internal/domain/provenance"
	"github.com/bigkaa/goartstore/record-module/internal/ledger"
	"github.com/bigkaa/goartstore/record-module/internal/repository"
)

// Статусы сверки одного события.
const (
	VerifyOK       = "ok"       // хэш в реестре совпадает с журналом
	VerifyMismatch = "mismatch" // хэш или вид события отличается
	VerifyUnknown  = "unknown"  // в реестре есть событие, которого нет в журнале
	VerifyMissing  = "missing"  // событие журнала не дошло до реестра
)

// VerifyOptions — флаги команды verify.
type VerifyOptions struct {
	*RootOptions
	// Strict — считать недоставленные события расхождением
	Strict bool
}

// VerifyItem — результат сверки одного события.
type VerifyItem struct {
	Seq          int64           `json:"seq"`
	Kind         provenance.Kind `json:"kind"`
	Status       string          `json:"status"`
	LocalDigest  string          `json:"localDigest,omitempty"`
	LedgerDigest string          `json:"ledgerDigest,omitempty"`
	Reference    string          `json:"reference,omitempty"`
}

// VerifyResult — итог сверки журнала записи с реестром.
type VerifyResult struct {
	RecordID string       `json:"recordId"`
	Items    []VerifyItem `json:"items"`
	OK       int          `json:"ok"`
	Mismatch int          `json:"mismatch"`
	Unknown  int          `json:"unknown"`
	Missing  int          `json:"missing"`
}

// Consistent сообщает, что реестр не противоречит журналу.
// strict дополнительно требует, чтобы все события были доставлены.
func (r VerifyResult) Consistent(strict bool) bool {
	if r.Mismatch > 0 || r.Unknown > 0 {
		return false
	}
	return !strict || r.Missing == 0
}

// NewVerifyCommand создаёт команду сверки журнала с внешним реестром.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <record-id>",
		Short: "Сверить журнал записи с внешним реестром",
		Long: `Пересчитывает BLAKE3-хэши публикуемых событий журнала записи
и сравнивает их с записями внешнего реестра (RM_LEDGER_MODE).

Код завершения 1 — реестр расходится с журналом, 2 — ошибка команды.
Недоставленные события (очередь отправки переполнилась или сервис
остановился) расхождением не считаются без --strict.

Примеры:
  recordctl verify P-100
  recordctl verify P-100 --strict --format json`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "считать недоставленные события расхождением")
	return cmd
}

func runVerify(cmd *cobra.Command, opts *VerifyOptions, recordID string) error {
	ctx := cmd.Context()
	logger := commandLogger(cmd, opts.Verbose)

	records, closeRecords, err := opts.Backends.OpenRecords(ctx, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "хранилище записей недоступно", err)
	}
	defer closeRecords()

	l, closeLedger, err := opts.Backends.OpenLedger(ctx, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "реестр недоступен", err)
	}
	defer closeLedger()

	rec, err := records.Get(ctx, recordID)
	if errors.Is(err, repository.ErrNotFound) {
		return WrapExitError(ExitCommandError, fmt.Sprintf("запись %q не найдена", recordID), err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "ошибка чтения записи", err)
	}

	remote, err := l.History(ctx, recordID)
	if err != nil {
		return WrapExitError(ExitCommandError, "ошибка чтения реестра", err)
	}

	result := Verify(rec, remote)
	logger.Debug("Сверка завершена",
		slog.String("record_id", recordID),
		slog.Int("ledger_entries", len(remote)),
	)

	if opts.Format == "json" {
		status := "ok"
		if !result.Consistent(opts.Strict) {
			status = VerifyMismatch
		}
		if err := writeJSON(cmd.OutOrStdout(), status, result); err != nil {
			return err
		}
	} else if err := printVerify(cmd, result); err != nil {
		return err
	}

	if !result.Consistent(opts.Strict) {
		return WrapExitError(ExitFailure, fmt.Sprintf("журнал записи %q расходится с реестром", recordID), nil)
	}
	return nil
}

// Verify сверяет публикуемые события журнала записи с записями реестра.
// Элементы результата упорядочены по Seq.
func Verify(rec *model.Record, remote []ledger.Entry) VerifyResult {
	expected := make(map[int64]ledger.Entry)
	for _, e := range rec.History.Since(0) {
		if ledger.Publishable(e.Kind()) {
			expected[e.Seq] = ledger.NewEntry(rec.RecordID, e)
		}
	}

	result := VerifyResult{RecordID: rec.RecordID, Items: []VerifyItem{}}
	for _, got := range remote {
		item := VerifyItem{
			Seq:          got.Seq,
			Kind:         got.Kind,
			LedgerDigest: got.Digest,
			Reference:    got.Reference,
		}
		want, ok := expected[got.Seq]
		switch {
		case !ok:
			item.Status = VerifyUnknown
			result.Unknown++
		case want.Digest != got.Digest || want.Kind != got.Kind:
			item.Status = VerifyMismatch
			item.LocalDigest = want.Digest
			result.Mismatch++
		default:
			item.Status = VerifyOK
			item.LocalDigest = want.Digest
			result.OK++
		}
		delete(expected, got.Seq)
		result.Items = append(result.Items, item)
	}

	for _, want := range expected {
		result.Items = append(result.Items, VerifyItem{
			Seq:         want.Seq,
			Kind:        want.Kind,
			Status:      VerifyMissing,
			LocalDigest: want.Digest,
		})
		result.Missing++
	}

	sort.SliceStable(result.Items, func(i, j int) bool {
		return result.Items[i].Seq < result.Items[j].Seq
	})
	return result
}

func printVerify(cmd *cobra.Command, result VerifyResult) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Запись %s: совпадает %d, расхождений %d, неизвестных %d, не доставлено %d\n\n",
		result.RecordID, result.OK, result.Mismatch, result.Unknown, result.Missing)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tСОБЫТИЕ\tСТАТУС\tХЭШ")
	for _, item := range result.Items {
		digest := item.LocalDigest
		if digest == "" {
			digest = item.LedgerDigest
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", item.Seq, item.Kind, item.Status, shortDigest(digest))
	}
	return tw.Flush()
}

// shortDigest сокращает hex-хэш для текстового вывода.
func shortDigest(d string) string {
	if len(d) > 16 {
		return d[:16]
	}
	return d
}
