// Утилита обслуживания Record Module: миграции, журнал происхождения
// записи и сверка с внешним реестром.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bigkaa/goartstore/record-module/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(nil).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
