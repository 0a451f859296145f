package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

// Config 記憶體儲存層設定
type Config struct {
	// FirstAccountNumber 第一個分配的帳號
	FirstAccountNumber int64 `yaml:"first_account_number"`
	// LockWaitTimeout 等待資料列鎖的上限，0 表示只看 context
	LockWaitTimeout time.Duration `yaml:"lock_wait_timeout"`
	// WALPath WAL 檔案路徑，空字串表示不落地
	WALPath string `yaml:"wal_path"`
}

// commitRecord 一次 Commit 寫入 WAL 的內容 (after-image)
type commitRecord struct {
	Accounts     []domain.Account     `json:"accounts,omitempty"`
	Transactions []domain.Transaction `json:"transactions,omitempty"`
}

// MemoryStore 是一個在記憶體中實作資料列排他鎖的儲存層
//
// 結構:
//
//	accounts: 已 Commit 的帳戶資料
//	locks: 每個帳號一個容量為 1 的 channel，放得進去就代表持有鎖
//	journal: 已 Commit 的交易流水
//	wal: Write-Ahead Log 實例 (可為 nil)
type MemoryStore struct {
	mu         sync.RWMutex
	accounts   map[int64]*domain.Account
	locks      map[int64]chan struct{}
	journal    []domain.Transaction
	nextNumber int64

	lockWaitTimeout time.Duration
	wal             *wal.WAL
	now             func() time.Time
}

// NewMemoryStore 建立一個新的 MemoryStore 實例，有 WAL 時先從 WAL 恢復
//
// 參數:
//
//	cfg: 設定
//	w: Write-Ahead Log 實例，nil 表示不落地
//
// 回傳:
//
//	*MemoryStore: MemoryStore 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewMemoryStore(cfg Config, w *wal.WAL) (*MemoryStore, error) {
	first := cfg.FirstAccountNumber
	if first <= 0 {
		first = 1
	}
	s := &MemoryStore{
		accounts:        make(map[int64]*domain.Account),
		locks:           make(map[int64]chan struct{}),
		nextNumber:      first,
		lockWaitTimeout: cfg.LockWaitTimeout,
		wal:             w,
		now:             time.Now,
	}
	if w != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, fmt.Errorf("recover from wal: %w", err)
		}
	}
	return s, nil
}

// recoverFromWAL 依序套用 WAL 中每次 Commit 的 after-image
// 只有 NewMemoryStore 呼叫，無需 Lock (單執行緒)
func (s *MemoryStore) recoverFromWAL() error {
	return s.wal.ReadAll(func(jsonRaw []byte) error {
		var rec commitRecord
		if err := json.Unmarshal(jsonRaw, &rec); err != nil {
			return err
		}
		s.apply(&rec)
		return nil
	})
}

// apply 發布一次 Commit 的結果，呼叫端需持有寫鎖 (或處於恢復階段)
func (s *MemoryStore) apply(rec *commitRecord) {
	for i := range rec.Accounts {
		account := rec.Accounts[i]
		s.accounts[account.Number] = &account
		if account.Number >= s.nextNumber {
			s.nextNumber = account.Number + 1
		}
	}
	s.journal = append(s.journal, rec.Transactions...)
}

// Begin 開啟一個 unit of work
func (s *MemoryStore) Begin(ctx context.Context) (usecase.TransactionContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewStoreError("begin", err)
	}
	return &memoryTx{
		store:  s,
		held:   make(map[int64]chan struct{}),
		writes: make(map[int64]*domain.Account),
	}, nil
}

// Journal 回傳已 Commit 的交易流水副本
func (s *MemoryStore) Journal() []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Transaction, len(s.journal))
	copy(out, s.journal)
	return out
}

// committed 讀取已 Commit 的帳戶副本
func (s *MemoryStore) committed(number int64) (*domain.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[number]
	if !ok {
		return nil, false
	}
	return account.Clone(), true
}

// rowLock 取得帳號對應的鎖，不存在就建立
func (s *MemoryStore) rowLock(number int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[number]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[number] = l
	}
	return l
}

// acquire 阻塞直到拿到鎖、context 結束或等待逾時
func (s *MemoryStore) acquire(ctx context.Context, l chan struct{}) error {
	var timeout <-chan time.Time
	if s.lockWaitTimeout > 0 {
		timer := time.NewTimer(s.lockWaitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return domain.ErrLockTimeout
	}
}

var _ usecase.Store = (*MemoryStore)(nil)
