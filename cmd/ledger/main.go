package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&shellCmd{}, "")
	subcommands.Register(&createCmd{}, "accounts")
	subcommands.Register(&balanceCmd{}, "accounts")
	subcommands.Register(&depositCmd{}, "accounts")
	subcommands.Register(&withdrawCmd{}, "accounts")
	subcommands.Register(&transferCmd{}, "accounts")
	subcommands.Register(&migrateCmd{}, "admin")

	flag.Parse()

	// Ctrl+C 會取消進行中的操作，引擎仍會 Rollback 後才返回
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	status := subcommands.Execute(ctx)
	stop()
	os.Exit(int(status))
}
