package usecase

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// DefaultAccountName 未提供戶名時使用
const DefaultAccountName = "John Doe"

// Config 帳務引擎設定
type Config struct {
	// DefaultAccountName 開戶未提供戶名時的預設值
	DefaultAccountName string `yaml:"default_account_name"`
	// AllowNegativeBalance 是否允許提款、轉帳讓餘額變成負數
	AllowNegativeBalance bool `yaml:"allow_negative_balance"`
	// LockOrder 轉帳上鎖順序: "source_first" 或 "ascending"
	LockOrder string `yaml:"lock_order"`
	// OperationTimeout 由 shell / CLI 套用在每個操作上的 context 期限，0 表示不限
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// DefaultConfig 回傳預設設定 (允許透支、先鎖轉出帳戶)
func DefaultConfig() Config {
	return Config{
		DefaultAccountName:   DefaultAccountName,
		AllowNegativeBalance: true,
		LockOrder:            domain.LockOrderSourceFirst.String(),
	}
}

// TransferResult 轉帳成功後兩個帳戶的最新狀態
type TransferResult struct {
	Source *domain.Account
	Target *domain.Account
}

// LedgerEngine 是核心業務邏輯層
// 本身不保存任何跨呼叫的狀態，每次操作都在鎖定下重新讀取帳戶
type LedgerEngine struct {
	store     Store
	cfg       Config
	lockOrder domain.LockOrder
	logger    *zap.Logger
	now       func() time.Time
}

// NewLedgerEngine 建立帳務引擎
//
// 參數:
//
//	store: 儲存層
//	cfg: 引擎設定
//	logger: 結構化 logger，nil 時不輸出
//
// 回傳:
//
//	*LedgerEngine: 引擎實例
//	error: 設定錯誤 (如未知的 lock_order)
func NewLedgerEngine(store Store, cfg Config, logger *zap.Logger) (*LedgerEngine, error) {
	lockOrder, err := domain.ParseLockOrder(cfg.LockOrder)
	if err != nil {
		return nil, err
	}
	if cfg.DefaultAccountName == "" {
		cfg.DefaultAccountName = DefaultAccountName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerEngine{
		store:     store,
		cfg:       cfg,
		lockOrder: lockOrder,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// CreateAccount 開戶
//
// 回傳:
//
//	int64: 新帳號
//	error: 儲存層錯誤 (已 Rollback)
func (e *LedgerEngine) CreateAccount(ctx context.Context, name string, initialBalance int64) (int64, error) {
	if name == "" {
		name = e.cfg.DefaultAccountName
	}
	log := e.logger.With(zap.String("op", "create_account"), zap.String("name", name))

	var number int64
	err := e.withinTransaction(ctx, log, func(tx TransactionContext) error {
		var err error
		number, err = tx.InsertAccount(ctx, name, initialBalance)
		if err != nil {
			return err
		}
		return tx.RecordTransaction(ctx, e.newTransaction(domain.TransactionTypeOpen, 0, number, initialBalance))
	})
	if err != nil {
		return 0, err
	}
	log.Debug("account created", zap.Int64("account", number), zap.Int64("balance", initialBalance))
	return number, nil
}

// Account 不加鎖讀取帳戶資料
func (e *LedgerEngine) Account(ctx context.Context, number int64) (*domain.Account, error) {
	log := e.logger.With(zap.String("op", "account"), zap.Int64("account", number))

	var account *domain.Account
	err := e.withinTransaction(ctx, log, func(tx TransactionContext) error {
		var err error
		account, err = tx.FetchAccount(ctx, number, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// CheckBalance 查詢餘額 (不加鎖，後面沒有寫入)
func (e *LedgerEngine) CheckBalance(ctx context.Context, number int64) (int64, error) {
	account, err := e.Account(ctx, number)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Deposit 存款，回傳新餘額
func (e *LedgerEngine) Deposit(ctx context.Context, number int64, amount int64) (int64, error) {
	return e.changeBalance(ctx, domain.TransactionTypeDeposit, number, amount)
}

// Withdraw 提款，回傳新餘額
// 預設允許餘額變成負數 (AllowNegativeBalance)
func (e *LedgerEngine) Withdraw(ctx context.Context, number int64, amount int64) (int64, error) {
	return e.changeBalance(ctx, domain.TransactionTypeWithdraw, number, amount)
}

// changeBalance 存款、提款共用流程
// 驗證 -> Begin -> 加鎖讀取 -> 計算 -> 寫回 -> Commit
func (e *LedgerEngine) changeBalance(ctx context.Context, typ domain.TransactionType, number int64, amount int64) (int64, error) {
	log := e.logger.With(zap.String("op", typ.String()), zap.Int64("account", number), zap.Int64("amount", amount))
	if amount <= 0 {
		log.Warn("rejected", zap.Error(domain.ErrAmountMustBePositive))
		return 0, domain.ErrAmountMustBePositive
	}

	var balance int64
	err := e.withinTransaction(ctx, log, func(tx TransactionContext) error {
		account, err := tx.FetchAccount(ctx, number, true)
		if err != nil {
			return err
		}
		tran := e.newTransaction(typ, 0, 0, amount)
		switch typ {
		case domain.TransactionTypeDeposit:
			balance, err = credit(account, amount)
			if err != nil {
				return err
			}
			tran.To = number
		case domain.TransactionTypeWithdraw:
			balance, err = e.debit(account, amount)
			if err != nil {
				return err
			}
			tran.From = number
		}
		if err := tx.UpdateBalance(ctx, number, balance); err != nil {
			return err
		}
		return tx.RecordTransaction(ctx, tran)
	})
	if err != nil {
		return 0, err
	}
	log.Debug("committed", zap.Int64("balance", balance))
	return balance, nil
}

// Transfer 轉帳
// 兩個帳戶在同一個交易內加鎖、計算、寫回；任何一步失敗整筆 Rollback
// 失敗時回傳 *domain.TransferError，Stage 指出失敗在轉出、轉入或寫入/Commit
func (e *LedgerEngine) Transfer(ctx context.Context, source, target int64, amount int64) (*TransferResult, error) {
	log := e.logger.With(
		zap.String("op", "transfer"),
		zap.Int64("source", source),
		zap.Int64("target", target),
		zap.Int64("amount", amount),
	)
	if amount <= 0 {
		log.Warn("rejected", zap.Error(domain.ErrAmountMustBePositive))
		return nil, domain.ErrAmountMustBePositive
	}
	if source == target {
		log.Warn("rejected", zap.Error(domain.ErrSameAccount))
		return nil, domain.ErrSameAccount
	}

	stage := domain.TransferStageSource
	var result TransferResult
	err := e.withinTransaction(ctx, log, func(tx TransactionContext) error {
		locked := make(map[int64]*domain.Account, 2)
		for _, number := range e.lockOrder.LockSequence(source, target) {
			if number == source {
				stage = domain.TransferStageSource
			} else {
				stage = domain.TransferStageTarget
			}
			account, err := tx.FetchAccount(ctx, number, true)
			if err != nil {
				return err
			}
			locked[number] = account
		}
		stage = domain.TransferStageCommit

		src, trgt := locked[source], locked[target]
		srcBalance, err := e.debit(src, amount)
		if err != nil {
			return err
		}
		trgtBalance, err := credit(trgt, amount)
		if err != nil {
			return err
		}

		if err := tx.UpdateBalance(ctx, source, srcBalance); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, target, trgtBalance); err != nil {
			return err
		}
		if err := tx.RecordTransaction(ctx, e.newTransaction(domain.TransactionTypeTransfer, source, target, amount)); err != nil {
			return err
		}
		src.Balance, trgt.Balance = srcBalance, trgtBalance
		result = TransferResult{Source: src, Target: trgt}
		return nil
	})
	if err != nil {
		return nil, &domain.TransferError{Stage: stage, Err: err}
	}
	log.Debug("committed",
		zap.Int64("source_balance", result.Source.Balance),
		zap.Int64("target_balance", result.Target.Balance),
	)
	return &result, nil
}

// debit 計算扣款後餘額，禁止透支時檢查餘額
// amount 已保證 > 0，只需檢查往下溢位
func (e *LedgerEngine) debit(account *domain.Account, amount int64) (int64, error) {
	if !e.cfg.AllowNegativeBalance && account.Balance < amount {
		return 0, domain.ErrInsufficientBalance
	}
	if account.Balance < math.MinInt64+amount {
		return 0, domain.ErrBalanceOverflow
	}
	return account.Balance - amount, nil
}

// credit 計算入帳後餘額
func credit(account *domain.Account, amount int64) (int64, error) {
	if account.Balance > 0 && amount > math.MaxInt64-account.Balance {
		return 0, domain.ErrBalanceOverflow
	}
	return account.Balance + amount, nil
}

func (e *LedgerEngine) newTransaction(typ domain.TransactionType, from, to, amount int64) *domain.Transaction {
	return &domain.Transaction{
		TransactionID: uuid.New(),
		Type:          typ,
		From:          from,
		To:            to,
		Amount:        amount,
		CreatedAt:     e.now().UnixMilli(),
	}
}

// withinTransaction 在一個 unit of work 內執行 fn
// 保證每次 Begin 之後恰好呼叫一次 Commit 或 Rollback (包含 panic)
// 回傳的錯誤一定屬於 domain 的錯誤分類，不會是原始的 driver 錯誤
func (e *LedgerEngine) withinTransaction(ctx context.Context, log *zap.Logger, fn func(tx TransactionContext) error) (err error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		err = domain.NewStoreError("begin", err)
		log.Error("begin failed", zap.Error(err))
		return err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, domain.ErrTxDone) {
			log.Error("rollback failed", zap.Error(rbErr))
		}
		if r := recover(); r != nil {
			log.Error("rolled back after panic", zap.Any("panic", r))
			panic(r)
		}
		log.Error("rolled back", zap.Error(err))
	}()

	if err = fn(tx); err != nil {
		err = classify(err)
		return err
	}
	if err = tx.Commit(); err != nil {
		// Commit 失敗時 driver 已經放棄交易，defer 仍會呼叫 Rollback
		err = domain.NewStoreError("commit", err)
		return err
	}
	committed = true
	return nil
}

// classify 把未分類的錯誤歸到 StoreError
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrBalanceOverflow),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrStore):
		return err
	default:
		return domain.NewStoreError("statement", err)
	}
}
