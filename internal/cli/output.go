package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// Коды завершения recordctl.
const (
	ExitSuccess      = 0 // успешное выполнение
	ExitFailure      = 1 // проверка не пройдена (расхождение с реестром)
	ExitCommandError = 2 // ошибка команды (конфигурация, хранилище недоступно)
)

// ExitError — ошибка с кодом завершения процесса.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError оборачивает ошибку с кодом завершения.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode извлекает код завершения из ошибки (ExitFailure по умолчанию).
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// response — JSON-ответ команды.
type response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

// writeJSON выводит результат команды в формате json.
func writeJSON(w io.Writer, status string, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(response{Status: status, Data: data})
}

// commandLogger — логгер команды. Пишет в stderr, чтобы не смешиваться
// с выводом json.
func commandLogger(cmd *cobra.Command, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
