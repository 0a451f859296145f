package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/shell"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// withApp 開啟 app 執行 fn，錯誤印到 stderr
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) subcommands.ExitStatus {
	a, err := openApp()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	opCtx, cancel := a.opContext(ctx)
	defer cancel()
	if err := fn(opCtx, a); err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type shellCmd struct{}

func (*shellCmd) Name() string     { return "shell" }
func (*shellCmd) Synopsis() string { return "start the interactive banking menu" }
func (*shellCmd) Usage() string {
	return `ledger shell

  Presents the main menu (create, check balance, deposit, withdraw, transfer)
  and keeps the selected account for the rest of the session.
`
}
func (*shellCmd) SetFlags(*flag.FlagSet) {}

func (*shellCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	sh := shell.New(a.engine, stdin, stdout, a.cfg.Ledger.OperationTimeout, a.log)
	if err := sh.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type createCmd struct {
	name    string
	balance int64
}

func (*createCmd) Name() string     { return "create" }
func (*createCmd) Synopsis() string { return "open a new account" }
func (*createCmd) Usage() string {
	return `ledger create [-name <name>] [-balance <amount>]

  Opens an account and prints the assigned account number.
`
}
func (c *createCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "Account holder name (defaults to the configured default name)")
	f.Int64Var(&c.balance, "balance", 0, "Initial balance")
}

func (c *createCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		number, err := a.engine.CreateAccount(ctx, c.name, c.balance)
		if err != nil {
			return fmt.Errorf("account creation unsuccessful: %w", err)
		}
		fmt.Fprintln(stdout, number)
		return nil
	})
}

type balanceCmd struct {
	account int64
}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "print the balance of an account" }
func (*balanceCmd) Usage() string {
	return `ledger balance -account <number>
`
}
func (c *balanceCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.account, "account", 0, "Account number")
}

func (c *balanceCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		balance, err := a.engine.CheckBalance(ctx, c.account)
		if err != nil {
			return fmt.Errorf("check balance unsuccessful: %w", err)
		}
		fmt.Fprintln(stdout, balance)
		return nil
	})
}

type depositCmd struct {
	account int64
	amount  int64
}

func (*depositCmd) Name() string     { return "deposit" }
func (*depositCmd) Synopsis() string { return "deposit into an account" }
func (*depositCmd) Usage() string {
	return `ledger deposit -account <number> -amount <amount>
`
}
func (c *depositCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.account, "account", 0, "Account number")
	f.Int64Var(&c.amount, "amount", 0, "Amount to deposit (must be positive)")
}

func (c *depositCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		balance, err := a.engine.Deposit(ctx, c.account, c.amount)
		if err != nil {
			return fmt.Errorf("deposit unsuccessful: %w", err)
		}
		fmt.Fprintln(stdout, balance)
		return nil
	})
}

type withdrawCmd struct {
	account int64
	amount  int64
}

func (*withdrawCmd) Name() string     { return "withdraw" }
func (*withdrawCmd) Synopsis() string { return "withdraw from an account" }
func (*withdrawCmd) Usage() string {
	return `ledger withdraw -account <number> -amount <amount>
`
}
func (c *withdrawCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.account, "account", 0, "Account number")
	f.Int64Var(&c.amount, "amount", 0, "Amount to withdraw (must be positive)")
}

func (c *withdrawCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		balance, err := a.engine.Withdraw(ctx, c.account, c.amount)
		if err != nil {
			return fmt.Errorf("withdraw unsuccessful: %w", err)
		}
		fmt.Fprintln(stdout, balance)
		return nil
	})
}

type transferCmd struct {
	from   int64
	to     int64
	amount int64
}

func (*transferCmd) Name() string     { return "transfer" }
func (*transferCmd) Synopsis() string { return "move money between two accounts atomically" }
func (*transferCmd) Usage() string {
	return `ledger transfer -from <number> -to <number> -amount <amount>

  Prints the new source and target balances.
`
}
func (c *transferCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.from, "from", 0, "Source account number")
	f.Int64Var(&c.to, "to", 0, "Target account number")
	f.Int64Var(&c.amount, "amount", 0, "Amount to transfer (must be positive)")
}

func (c *transferCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		res, err := a.engine.Transfer(ctx, c.from, c.to, c.amount)
		if err != nil {
			var terr *domain.TransferError
			if errors.As(err, &terr) && terr.Stage != domain.TransferStageCommit {
				return fmt.Errorf("transfer unsuccessful (%s account error): %w", terr.Stage, err)
			}
			return fmt.Errorf("transfer unsuccessful: %w", err)
		}
		fmt.Fprintf(stdout, "%d %d\n", res.Source.Balance, res.Target.Balance)
		return nil
	})
}

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "create or update the MySQL schema" }
func (*migrateCmd) Usage() string {
	return `ledger migrate

  Creates the accounts and transactions tables. Only meaningful with store: mysql.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

type migrator interface {
	Migrate(ctx context.Context) error
}

func (*migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		m, ok := a.store.(migrator)
		if !ok {
			return fmt.Errorf("store %q has no schema to migrate", a.cfg.Store)
		}
		return m.Migrate(ctx)
	})
}
