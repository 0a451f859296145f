package memory

import (
	"context"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// memoryTx 單一 unit of work
// 寫入先放在 writes，Commit 時才發布；同一個交易讀得到自己的寫入
// 不可被多個 goroutine 同時使用
type memoryTx struct {
	store   *MemoryStore
	held     map[int64]chan struct{}
	writes   map[int64]*domain.Account
	inserted []int64
	journal  []domain.Transaction
	done     bool
}

// FetchAccount 讀取帳戶，exclusiveLock 時先取得排他鎖再讀最新的已 Commit 值
func (tx *memoryTx) FetchAccount(ctx context.Context, number int64, exclusiveLock bool) (*domain.Account, error) {
	if tx.done {
		return nil, domain.ErrTxDone
	}
	if account, ok := tx.writes[number]; ok {
		return account.Clone(), nil
	}
	if _, ok := tx.store.committed(number); !ok {
		return nil, domain.ErrAccountNotFound
	}
	if exclusiveLock {
		if err := tx.lock(ctx, number); err != nil {
			return nil, err
		}
	}
	account, ok := tx.store.committed(number)
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

// InsertAccount 分配帳號並新增帳戶，新帳戶在 Commit 前只有本交易看得到
// 帳號一經分配即使 Rollback 也不會重複使用
func (tx *memoryTx) InsertAccount(ctx context.Context, name string, balance int64) (int64, error) {
	if tx.done {
		return 0, domain.ErrTxDone
	}
	s := tx.store
	s.mu.Lock()
	number := s.nextNumber
	s.nextNumber++
	s.mu.Unlock()

	if err := tx.lock(ctx, number); err != nil {
		return 0, err
	}
	tx.inserted = append(tx.inserted, number)
	tx.writes[number] = domain.NewAccount(number, name, balance, s.now())
	return number, nil
}

// UpdateBalance 更新餘額；尚未持有鎖時先隱式加鎖 (與 UPDATE 語意一致)
func (tx *memoryTx) UpdateBalance(ctx context.Context, number int64, balance int64) error {
	if tx.done {
		return domain.ErrTxDone
	}
	account, ok := tx.writes[number]
	if !ok {
		if _, ok := tx.store.committed(number); !ok {
			return domain.ErrAccountNotFound
		}
		if err := tx.lock(ctx, number); err != nil {
			return err
		}
		account, ok = tx.store.committed(number)
		if !ok {
			return domain.ErrAccountNotFound
		}
		tx.writes[number] = account
	}
	account.Balance = balance
	return nil
}

// RecordTransaction 暫存交易流水
func (tx *memoryTx) RecordTransaction(ctx context.Context, tran *domain.Transaction) error {
	if tx.done {
		return domain.ErrTxDone
	}
	tx.journal = append(tx.journal, *tran)
	return nil
}

// Commit 先寫 WAL 再發布，最後釋放所有鎖
// WAL 寫入失敗時不發布任何變更
func (tx *memoryTx) Commit() error {
	if tx.done {
		return domain.ErrTxDone
	}
	tx.done = true

	if len(tx.writes) == 0 && len(tx.journal) == 0 {
		tx.release(true)
		return nil
	}
	rec := &commitRecord{Transactions: tx.journal}
	for _, account := range tx.writes {
		rec.Accounts = append(rec.Accounts, *account)
	}

	s := tx.store
	if s.wal != nil {
		if err := s.wal.Write(rec); err != nil {
			tx.release(false)
			return domain.NewStoreError("wal write", err)
		}
	}
	s.mu.Lock()
	s.apply(rec)
	s.mu.Unlock()
	tx.release(true)
	return nil
}

// Rollback 捨棄所有寫入並釋放鎖
func (tx *memoryTx) Rollback() error {
	if tx.done {
		return domain.ErrTxDone
	}
	tx.done = true
	tx.release(false)
	return nil
}

func (tx *memoryTx) lock(ctx context.Context, number int64) error {
	if _, ok := tx.held[number]; ok {
		return nil
	}
	l := tx.store.rowLock(number)
	if err := tx.store.acquire(ctx, l); err != nil {
		return domain.NewStoreError("lock account", err)
	}
	tx.held[number] = l
	return nil
}

// release 釋放所有鎖；published 為 false 時，本交易新增的帳號不會再被使用，
// 連同鎖一起從 store 移除
func (tx *memoryTx) release(published bool) {
	for number, l := range tx.held {
		<-l
		delete(tx.held, number)
	}
	if !published && len(tx.inserted) > 0 {
		s := tx.store
		s.mu.Lock()
		for _, number := range tx.inserted {
			delete(s.locks, number)
		}
		s.mu.Unlock()
	}
	tx.writes = nil
	tx.inserted = nil
	tx.journal = nil
}

var _ usecase.TransactionContext = (*memoryTx)(nil)
