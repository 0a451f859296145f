package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation 輸入不合法 (金額 <= 0、轉入轉出同一帳戶)，交易尚未開啟
	ErrValidation = errors.New("validation error")

	// ErrAmountMustBePositive 金額必須為正數
	ErrAmountMustBePositive = fmt.Errorf("%w: amount must be positive", ErrValidation)

	// ErrSameAccount 轉出與轉入為同一帳戶
	ErrSameAccount = fmt.Errorf("%w: source and target account are the same", ErrValidation)

	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientBalance 餘額不足 (僅在禁止透支時出現)
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrBalanceOverflow 計算後的餘額超出 int64 範圍
	ErrBalanceOverflow = errors.New("balance out of range")

	// ErrStore 儲存層錯誤 (連線、查詢、鎖等待、死鎖)
	ErrStore = errors.New("store error")

	// ErrDeadlock 資料庫偵測到死鎖並中止本交易
	ErrDeadlock = errors.New("deadlock detected")

	// ErrLockTimeout 等待資料列鎖逾時
	ErrLockTimeout = errors.New("lock wait timeout")

	// ErrTxDone 交易已 Commit 或 Rollback
	ErrTxDone = errors.New("transaction already finished")
)

// StoreError 包裝儲存層的原始錯誤，errors.Is(err, ErrStore) 恆為真
type StoreError struct {
	Op  string
	Err error
}

// NewStoreError 包裝錯誤；已經是 StoreError 的直接回傳
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// TransferStage 轉帳失敗時的進度標記
type TransferStage uint8

const (
	// 轉出帳戶尚未鎖定成功 (含開啟交易失敗)
	TransferStageSource TransferStage = iota
	// 轉出已鎖定，轉入帳戶取得失敗
	TransferStageTarget
	// 兩邊都已鎖定，寫入或 Commit 失敗
	TransferStageCommit
)

func (s TransferStage) String() string {
	switch s {
	case TransferStageSource:
		return "source"
	case TransferStageTarget:
		return "target"
	case TransferStageCommit:
		return "commit"
	default:
		return fmt.Sprintf("TransferStage(%d)", uint8(s))
	}
}

// TransferError 轉帳在交易內失敗，Stage 指出失敗在哪一側
type TransferError struct {
	Stage TransferStage
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed at %s: %v", e.Stage, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
