package usecase

import (
	"context"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// AccountStore 帳戶資料列操作
// 全部在目前開啟的 TransactionContext 內執行，不會自行 Commit
type AccountStore interface {
	// FetchAccount 讀取帳戶，exclusiveLock 為 true 時加上排他鎖直到交易結束
	// 找不到時回傳 domain.ErrAccountNotFound
	FetchAccount(ctx context.Context, number int64, exclusiveLock bool) (*domain.Account, error)
	// InsertAccount 新增帳戶並回傳分配的帳號
	InsertAccount(ctx context.Context, name string, balance int64) (int64, error)
	// UpdateBalance 更新餘額
	UpdateBalance(ctx context.Context, number int64, balance int64) error
	// RecordTransaction 寫入交易流水
	RecordTransaction(ctx context.Context, tran *domain.Transaction) error
}

// TransactionContext 是一個 unit of work
// 每次 Begin 之後只能呼叫一次 Commit 或 Rollback
type TransactionContext interface {
	AccountStore
	// Commit 保存 Begin 之後的所有寫入
	Commit() error
	// Rollback 捨棄所有寫入並釋放鎖，交易已結束時回傳 domain.ErrTxDone
	Rollback() error
}

// Store 是帳務系統的儲存層介面
// 每個並行的呼叫者各自 Begin 自己的 TransactionContext
type Store interface {
	Begin(ctx context.Context) (TransactionContext, error)
}
