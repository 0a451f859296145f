package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	memory_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/mysql"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/internal/config"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

var configPath = flag.String("config", "config/config.yaml", "Path to the YAML configuration file")

// 測試時替換
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// app 一次命令執行所需的元件
type app struct {
	cfg     config.Config
	log     *zap.Logger
	store   usecase.Store
	engine  *usecase.LedgerEngine
	closers []func() error
}

// openApp 載入設定並依 store 類型組裝元件
func openApp() (*app, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	switch cfg.Store {
	case config.StoreMySQL:
		client, err := mysql.NewClient(cfg.MySQL, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		log.Debug("connected to mysql", zap.String("host", cfg.MySQL.Host), zap.String("db", cfg.MySQL.DBName))
		a.store = mysql_adapter.NewMySQLStore(client)
	case config.StoreMemory:
		var w *wal.WAL
		if cfg.Memory.WALPath != "" {
			w, err = wal.NewWAL(cfg.Memory.WALPath)
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("open wal: %w", err)
			}
			a.closers = append(a.closers, w.Close)
		}
		a.store, err = memory_adapter.NewMemoryStore(cfg.Memory, w)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.engine, err = usecase.NewLedgerEngine(a.store, cfg.Ledger, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// opContext 套用設定的操作期限
func (a *app) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Ledger.OperationTimeout > 0 {
		return context.WithTimeout(ctx, a.cfg.Ledger.OperationTimeout)
	}
	return context.WithCancel(ctx)
}

// Close 依相反順序關閉資源
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	_ = a.log.Sync()
	return errors.Join(errs...)
}
