package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// TransactionType 交易類型
// 為了極致節省記憶體，使用 uint8
type TransactionType uint8

const (
	// 開戶 (初始餘額)
	TransactionTypeOpen TransactionType = 0
	// 存款
	TransactionTypeDeposit TransactionType = 1
	// 提款
	TransactionTypeWithdraw TransactionType = 2
	// 轉帳
	TransactionTypeTransfer TransactionType = 3
)

func (t TransactionType) String() string {
	switch t {
	case TransactionTypeOpen:
		return "open"
	case TransactionTypeDeposit:
		return "deposit"
	case TransactionTypeWithdraw:
		return "withdraw"
	case TransactionTypeTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("TransactionType(%d)", uint8(t))
	}
}

// Transaction 交易流水，與餘額異動在同一個 unit of work 內寫入
// 注意欄位排序以避免 Padding
type Transaction struct {
	// From, To: 帳號，沒有的一側為 0
	From int64
	To   int64
	// Amount: 金額
	Amount int64
	// CreatedAt: 交易時間 (unix milli)
	CreatedAt int64
	// TransactionID: 外部追蹤號 (UUID)
	TransactionID uuid.UUID
	// Type: 放到最後面，利用 Padding 空間
	Type TransactionType
}

// LockOrder 轉帳時兩個帳戶的上鎖順序
type LockOrder uint8

const (
	// 先鎖轉出再鎖轉入 (預設)
	// 反方向同時轉帳可能互等，由儲存層偵測死鎖或鎖等待逾時後中止其中一方
	LockOrderSourceFirst LockOrder = iota
	// 依帳號由小到大上鎖，反方向轉帳不會互等
	LockOrderAscending
)

// ParseLockOrder 解析設定檔字串
func ParseLockOrder(s string) (LockOrder, error) {
	switch s {
	case "", "source_first":
		return LockOrderSourceFirst, nil
	case "ascending":
		return LockOrderAscending, nil
	default:
		return 0, fmt.Errorf("unknown lock order %q", s)
	}
}

func (o LockOrder) String() string {
	if o == LockOrderAscending {
		return "ascending"
	}
	return "source_first"
}

// LockSequence 回傳轉帳需要鎖定的帳號順序
func (o LockOrder) LockSequence(source, target int64) [2]int64 {
	if o == LockOrderAscending && target < source {
		return [2]int64{target, source}
	}
	return [2]int64{source, target}
}
