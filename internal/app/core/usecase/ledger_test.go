package usecase_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

var errConnReset = errors.New("connection reset by peer")

// spyStore 包住 MemoryStore，記錄 Begin/Commit/Rollback 次數並可注入錯誤
type spyStore struct {
	inner *memory.MemoryStore

	mu          sync.Mutex
	begins      int
	commits     int
	rollbacks   int
	beginErr    error
	commitErr   error
	failFetch   map[int64]error
	failUpdate  map[int64]error
	panicUpdate map[int64]bool
}

func (s *spyStore) Begin(ctx context.Context) (usecase.TransactionContext, error) {
	s.mu.Lock()
	s.begins++
	beginErr := s.beginErr
	s.mu.Unlock()
	if beginErr != nil {
		return nil, beginErr
	}
	tx, err := s.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &spyTx{TransactionContext: tx, spy: s}, nil
}

func (s *spyStore) counts() (begins, commits, rollbacks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins, s.commits, s.rollbacks
}

type spyTx struct {
	usecase.TransactionContext
	spy *spyStore
}

func (t *spyTx) FetchAccount(ctx context.Context, number int64, exclusiveLock bool) (*domain.Account, error) {
	if err := t.spy.failFetch[number]; err != nil {
		return nil, err
	}
	return t.TransactionContext.FetchAccount(ctx, number, exclusiveLock)
}

func (t *spyTx) UpdateBalance(ctx context.Context, number int64, balance int64) error {
	if t.spy.panicUpdate[number] {
		panic("driver exploded")
	}
	if err := t.spy.failUpdate[number]; err != nil {
		return err
	}
	return t.TransactionContext.UpdateBalance(ctx, number, balance)
}

// Commit 失敗時不發布任何寫入，之後由引擎呼叫 Rollback 釋放鎖
func (t *spyTx) Commit() error {
	t.spy.mu.Lock()
	t.spy.commits++
	commitErr := t.spy.commitErr
	t.spy.mu.Unlock()
	if commitErr != nil {
		return commitErr
	}
	return t.TransactionContext.Commit()
}

func (t *spyTx) Rollback() error {
	t.spy.mu.Lock()
	t.spy.rollbacks++
	t.spy.mu.Unlock()
	return t.TransactionContext.Rollback()
}

type fixture struct {
	engine *usecase.LedgerEngine
	spy    *spyStore
	mem    *memory.MemoryStore
}

func newFixture(t *testing.T, cfg usecase.Config, memCfg memory.Config) *fixture {
	t.Helper()
	if memCfg.FirstAccountNumber == 0 {
		memCfg.FirstAccountNumber = 1001
	}
	mem, err := memory.NewMemoryStore(memCfg, nil)
	require.NoError(t, err)
	spy := &spyStore{
		inner:       mem,
		failFetch:   map[int64]error{},
		failUpdate:  map[int64]error{},
		panicUpdate: map[int64]bool{},
	}
	engine, err := usecase.NewLedgerEngine(spy, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return &fixture{engine: engine, spy: spy, mem: mem}
}

func (f *fixture) open(t *testing.T, name string, balance int64) int64 {
	t.Helper()
	number, err := f.engine.CreateAccount(context.Background(), name, balance)
	require.NoError(t, err)
	return number
}

func (f *fixture) balance(t *testing.T, number int64) int64 {
	t.Helper()
	b, err := f.engine.CheckBalance(context.Background(), number)
	require.NoError(t, err)
	return b
}

// assertBalanced 每次 Begin 都恰好對應一次 Commit 或 Rollback
// Commit 失敗後的 Rollback 也算在內，所以 commitErr 場景另外計算
func (f *fixture) assertBalanced(t *testing.T) {
	t.Helper()
	begins, commits, rollbacks := f.spy.counts()
	assert.Equal(t, begins, commits+rollbacks, "begins=%d commits=%d rollbacks=%d", begins, commits, rollbacks)
}

// TestScenario 帳戶 1001 餘額 500：存 150、提 800 (允許負數)、轉帳到不存在的 1002
func TestScenario(t *testing.T) {
	f := newFixture(t, usecase.DefaultConfig(), memory.Config{})
	ctx := context.Background()

	acc := f.open(t, "Alice", 500)
	require.Equal(t, int64(1001), acc)

	balance, err := f.engine.Deposit(ctx, acc, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(650), balance)
	assert.Equal(t, int64(650), f.balance(t, acc))

	balance, err = f.engine.Withdraw(ctx, acc, 800)
	require.NoError(t, err)
	assert.Equal(t, int64(-150), balance)
	assert.Equal(t, int64(-150), f.balance(t, acc))

	_, err = f.engine.Transfer(ctx, acc, 1002, 100)
	var terr *domain.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.TransferStageTarget, terr.Stage)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.Equal(t, int64(-150), f.balance(t, acc))

	f.assertBalanced(t)
}

func TestCreateAccount(t *testing.T) {
	f := newFixture(t, usecase.DefaultConfig(), memory.Config{})
	ctx := context.Background()

	n := f.open(t, "", 0)
	account, err := f.engine.Account(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, "John Doe", account.Name)
	assert.Equal(t, int64(0), account.Balance)
	assert.False(t, account.OpenDate.IsZero())

	f.spy.beginErr = errConnReset
	_, err = f.engine.CreateAccount(ctx, "Bob", 10)
	assert.ErrorIs(t, err, domain.ErrStore)
	assert.ErrorIs(t, err, errConnReset)
}

func TestCreateAccountRollsBackOnCommitFailure(t *testing.T) {
	f := newFixture(t, usecase.DefaultConfig(), memory.Config{})
	ctx := context.Background()

	f.spy.commitErr = errConnReset
	_, err := f.engine.CreateAccount(ctx, "Bob", 10)
	assert.ErrorIs(t, err, domain.ErrStore)

	f.spy.commitErr = nil
	_, err = f.engine.CheckBalance(ctx, 1001)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.Empty(t, f.mem.Journal())
}

func TestCheckBalanceNotFound(t *testing.T) {
	f := newFixture(t, usecase.DefaultConfig(), memory.Config{})

	_, err := f.engine.CheckBalance(context.Background(), 4242)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.NotErrorIs(t, err, domain.ErrStore)

	f.spy.beginErr = errConnReset
	_, err = f.engine.CheckBalance(context.Background(), 4242)
	assert.ErrorIs(t, err, domain.ErrStore)
}

// TestDepositsAccumulate 存款總和正確
func TestDepositsAccumulate(t *testing.T) {
	f := newFixture(t, usecase.DefaultConfig(), memory.Config{})
	acc := f.open(t, "A", 37)

	want := int64(37)
	for _, amount := range []int64{1, 5, 100, 3, 9999} {
		got, err := f.engine.Deposit(context.Background(), acc, amount)
		require.NoError(t, err)
		want += amount
		assert.Equal(t, want, got)
	}
	assert.Equal(t, want, f.balance(t, acc))
}

func TestRoundTrips(t *testing.T) {
	f := newFixture(t, usecase.DefaultConfig(), memory.Config{})
	ctx := context.Background()
	a := f.open(t, "A", 300)
	b := f.open(t, "B", 40)

	for _, amount := range []int64{1, 250, 1000} {
		_, err := f.engine.Withdraw(ctx, a, amount)
		require.NoError(t, err)
		_, err = f.engine.Deposit(ctx, a, amount)
		require.NoError(t, err)
		assert.Equal(t, int64(300), f.balance(t, a))

		res, err := f.engine.Transfer(ctx, a, b, amount)
		require.NoError(t, err)
		assert.Equal(t, 300-amount, res.Source.Balance)
		assert.Equal(t, 40+amount, res.Target.Balance)
		assert.Equal(t, "A", res.Source.Name)
		assert.Equal(t, "B", res.Target.Name)

		_, err = f.engine.Transfer(ctx, b, a, amount)
		require.NoError(t, err)
		assert.Equal(t, int64(300), f.balance(t, a))
		assert.Equal(t, int64(40), f.balance(t, b))
	}
	f.assertBalanced(t)
}

// TestValidationOpensNoTransaction 金額 <= 0 在開啟交易前就被拒絕
func TestValidationOpensNoTransaction(t *testing.T) {
	f := newFixture(t, usecase.DefaultConfig(), memory.Config{})
	ctx := context.Background()
	a := f.open(t, "A", 100)
	b := f.open(t, "B", 100)
	before, _, _ := f.spy.counts()

	for _, amount := range []int64{0, -1, -500} {
		_, err := f.engine.Deposit(ctx, a, amount)
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, err = f.engine.Withdraw(ctx, a, amount)
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, err = f.engine.Transfer(ctx, a, b, amount)
		assert.ErrorIs(t, err, domain.ErrValidation)
		var terr *domain.TransferError
		assert.False(t, errors.As(err, &terr))
	}
	_, err := f.engine.Transfer(ctx, a, a, 10)
	assert.ErrorIs(t, err, domain.ErrSameAccount)
	assert.ErrorIs(t, err, domain.ErrValidation)

	after, _, _ := f.spy.counts()
	assert.Equal(t, before, after)
	assert.Equal(t, int64(100), f.balance(t, a))
}

// TestFailureAfterLockLeavesBalance 取得鎖之後失敗，餘額不變且鎖已釋放
func TestFailureAfterLockLeavesBalance(t *testing.T) {
	f := newFixture(t, usecase.DefaultConfig(), memory.Config{LockWaitTimeout: time.Second})
	ctx := context.Background()
	a := f.open(t, "A", 500)
	b := f.open(t, "B", 100)
	journal := len(f.mem.Journal())

	f.spy.failUpdate[a] = errConnReset
	_, err := f.engine.Deposit(ctx, a, 50)
	assert.ErrorIs(t, err, domain.ErrStore)
	assert.ErrorIs(t, err, errConnReset)
	_, err = f.engine.Withdraw(ctx, a, 50)
	assert.ErrorIs(t, err, domain.ErrStore)
	delete(f.spy.failUpdate, a)

	// 轉出已寫入、轉入寫入失敗：整筆 Rollback
	f.spy.failUpdate[b] = errConnReset
	_, err = f.engine.Transfer(ctx, a, b, 70)
	var terr *domain.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.TransferStageCommit, terr.Stage)
	assert.ErrorIs(t, err, domain.ErrStore)
	delete(f.spy.failUpdate, b)

	assert.Equal(t, int64(500), f.balance(t, a))
	assert.Equal(t, int64(100), f.balance(t, b))
	assert.Len(t, f.mem.Journal(), journal)

	// 鎖已釋放，後續操作不會卡住
	_, err = f.engine.Transfer(ctx, a, b, 70)
	require.NoError(t, err)
	assert.Equal(t, int64(430), f.balance(t, a))
	assert.Equal(t, int64(170), f.balance(t, b))
	f.assertBalanced(t)
}

func TestCommitFailureRollsBack(t *testing.T) {
	f := newFixture(t, usecase.DefaultConfig(), memory.Config{LockWaitTimeout: time.Second})
	ctx := context.Background()
	a := f.open(t, "A", 500)
	b := f.open(t, "B", 0)

	f.spy.commitErr = errConnReset
	_, err := f.engine.Deposit(ctx, a, 10)
	assert.ErrorIs(t, err, domain.ErrStore)

	_, err = f.engine.Transfer(ctx, a, b, 10)
	var terr *domain.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.TransferStageCommit, terr.Stage)
	f.spy.commitErr = nil

	assert.Equal(t, int64(500), f.balance(t, a))
	assert.Equal(t, int64(0), f.balance(t, b))

	// Commit 失敗後引擎仍呼叫 Rollback 釋放鎖
	_, err = f.engine.Deposit(ctx, a, 10)
	require.NoError(t, err)
}

func TestTransferStages(t *testing.T) {
	ctx := context.Background()

	t.Run("begin failure", func(t *testing.T) {
		f := newFixture(t, usecase.DefaultConfig(), memory.Config{})
		a := f.open(t, "A", 10)
		b := f.open(t, "B", 10)
		f.spy.beginErr = errConnReset
		_, err := f.engine.Transfer(ctx, a, b, 5)
		var terr *domain.TransferError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, domain.TransferStageSource, terr.Stage)
		assert.ErrorIs(t, err, domain.ErrStore)
	})

	t.Run("source missing", func(t *testing.T) {
		f := newFixture(t, usecase.DefaultConfig(), memory.Config{})
		b := f.open(t, "B", 10)
		_, err := f.engine.Transfer(ctx, 999, b, 5)
		var terr *domain.TransferError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, domain.TransferStageSource, terr.Stage)
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
		assert.Equal(t, int64(10), f.balance(t, b))
	})

	t.Run("target fetch store error", func(t *testing.T) {
		f := newFixture(t, usecase.DefaultConfig(), memory.Config{})
		a := f.open(t, "A", 10)
		b := f.open(t, "B", 10)
		f.spy.failFetch[b] = errConnReset
		_, err := f.engine.Transfer(ctx, a, b, 5)
		var terr *domain.TransferError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, domain.TransferStageTarget, terr.Stage)
		assert.ErrorIs(t, err, domain.ErrStore)
	})

	// 依帳號順序上鎖時，失敗仍以轉出/轉入區分
	t.Run("ascending order keeps source and target semantics", func(t *testing.T) {
		cfg := usecase.DefaultConfig()
		cfg.LockOrder = "ascending"
		f := newFixture(t, cfg, memory.Config{})
		low := f.open(t, "Low", 10)
		high := f.open(t, "High", 10)
		f.spy.failFetch[high] = errConnReset
		_, err := f.engine.Transfer(ctx, high, low, 5)
		var terr *domain.TransferError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, domain.TransferStageSource, terr.Stage)
	})
}

func TestPanicRollsBack(t *testing.T) {
	f := newFixture(t, usecase.DefaultConfig(), memory.Config{LockWaitTimeout: time.Second})
	ctx := context.Background()
	a := f.open(t, "A", 500)

	f.spy.panicUpdate[a] = true
	assert.Panics(t, func() {
		_, _ = f.engine.Deposit(ctx, a, 10)
	})
	delete(f.spy.panicUpdate, a)

	got, err := f.engine.Deposit(ctx, a, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(510), got)
	f.assertBalanced(t)
}

func TestOverdraftPolicy(t *testing.T) {
	cfg := usecase.DefaultConfig()
	cfg.AllowNegativeBalance = false
	f := newFixture(t, cfg, memory.Config{})
	ctx := context.Background()
	a := f.open(t, "A", 100)
	b := f.open(t, "B", 0)

	_, err := f.engine.Withdraw(ctx, a, 101)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	_, err = f.engine.Transfer(ctx, a, b, 101)
	var terr *domain.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.TransferStageCommit, terr.Stage)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	got, err := f.engine.Withdraw(ctx, a, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
	assert.Equal(t, int64(0), f.balance(t, b))
}

// TestBalanceBoundaries 餘額運算不可繞過 int64 邊界
// 溢位時整筆 Rollback，兩邊餘額與流水都不變
func TestBalanceBoundaries(t *testing.T) {
	tests := []struct {
		name          string
		op            string
		source        int64
		target        int64
		amount        int64
		wantErr       error
		wantSource    int64
		wantTarget    int64
		wantFailStage domain.TransferStage
	}{
		{name: "deposit overflow", op: "deposit", source: math.MaxInt64 - 5, amount: 10, wantErr: domain.ErrBalanceOverflow, wantSource: math.MaxInt64 - 5},
		{name: "deposit up to max", op: "deposit", source: math.MaxInt64 - 5, amount: 5, wantSource: math.MaxInt64},
		{name: "deposit max onto negative", op: "deposit", source: -10, amount: math.MaxInt64, wantSource: math.MaxInt64 - 10},
		{name: "withdraw underflow", op: "withdraw", source: math.MinInt64 + 5, amount: 10, wantErr: domain.ErrBalanceOverflow, wantSource: math.MinInt64 + 5},
		{name: "withdraw down to min", op: "withdraw", source: math.MinInt64 + 5, amount: 5, wantSource: math.MinInt64},
		{name: "transfer source underflow", op: "transfer", source: math.MinInt64 + 5, target: 0, amount: 10, wantErr: domain.ErrBalanceOverflow, wantSource: math.MinInt64 + 5, wantTarget: 0, wantFailStage: domain.TransferStageCommit},
		{name: "transfer target overflow", op: "transfer", source: 100, target: math.MaxInt64 - 5, amount: 10, wantErr: domain.ErrBalanceOverflow, wantSource: 100, wantTarget: math.MaxInt64 - 5, wantFailStage: domain.TransferStageCommit},
		{name: "transfer up to max", op: "transfer", source: 100, target: math.MaxInt64 - 5, amount: 5, wantSource: 95, wantTarget: math.MaxInt64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, usecase.DefaultConfig(), memory.Config{})
			ctx := context.Background()
			src := f.open(t, "Source", tt.source)
			dst := f.open(t, "Target", tt.target)
			journal := len(f.mem.Journal())

			var err error
			switch tt.op {
			case "deposit":
				_, err = f.engine.Deposit(ctx, src, tt.amount)
			case "withdraw":
				_, err = f.engine.Withdraw(ctx, src, tt.amount)
			case "transfer":
				_, err = f.engine.Transfer(ctx, src, dst, tt.amount)
			}

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.NotErrorIs(t, err, domain.ErrStore)
				if tt.op == "transfer" {
					var terr *domain.TransferError
					require.ErrorAs(t, err, &terr)
					assert.Equal(t, tt.wantFailStage, terr.Stage)
				}
				assert.Len(t, f.mem.Journal(), journal)
			} else {
				require.NoError(t, err)
				assert.Len(t, f.mem.Journal(), journal+1)
			}
			assert.Equal(t, tt.wantSource, f.balance(t, src))
			assert.Equal(t, tt.wantTarget, f.balance(t, dst))
			f.assertBalanced(t)
		})
	}
}

func TestJournalOnlyForCommitted(t *testing.T) {
	f := newFixture(t, usecase.DefaultConfig(), memory.Config{})
	ctx := context.Background()
	a := f.open(t, "A", 100)
	b := f.open(t, "B", 0)

	_, err := f.engine.Deposit(ctx, a, 5)
	require.NoError(t, err)
	_, err = f.engine.Withdraw(ctx, a, 0)
	require.Error(t, err)
	_, err = f.engine.Transfer(ctx, a, b, 20)
	require.NoError(t, err)
	_, err = f.engine.Transfer(ctx, a, 777, 20)
	require.Error(t, err)

	journal := f.mem.Journal()
	require.Len(t, journal, 4)
	assert.Equal(t, domain.TransactionTypeOpen, journal[0].Type)
	assert.Equal(t, domain.TransactionTypeOpen, journal[1].Type)
	assert.Equal(t, domain.TransactionTypeDeposit, journal[2].Type)
	assert.Equal(t, a, journal[2].To)
	assert.Equal(t, domain.TransactionTypeTransfer, journal[3].Type)
	assert.Equal(t, a, journal[3].From)
	assert.Equal(t, b, journal[3].To)
	assert.Equal(t, int64(20), journal[3].Amount)
	assert.NotEqual(t, journal[2].TransactionID, journal[3].TransactionID)
}

// TestConcurrentDeposits 同一帳戶並行存款不會遺失更新
func TestConcurrentDeposits(t *testing.T) {
	f := newFixture(t, usecase.DefaultConfig(), memory.Config{})
	a := f.open(t, "A", 0)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := f.engine.Deposit(context.Background(), a, 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(workers*10), f.balance(t, a))
	f.assertBalanced(t)
}

// TestOppositeTransfers 反方向並行轉帳：總額守恆
// ascending 不會互等，全部成功；source_first 可能因鎖等待逾時失敗，但失敗的都已 Rollback
func TestOppositeTransfers(t *testing.T) {
	for order, lockWait := range map[string]time.Duration{
		"ascending":    10 * time.Second,
		"source_first": 20 * time.Millisecond,
	} {
		t.Run(order, func(t *testing.T) {
			cfg := usecase.DefaultConfig()
			cfg.LockOrder = order
			f := newFixture(t, cfg, memory.Config{LockWaitTimeout: lockWait})
			a := f.open(t, "A", 1000)
			b := f.open(t, "B", 1000)

			const rounds = 40
			var mu sync.Mutex
			var failures int
			var wg sync.WaitGroup
			wg.Add(rounds * 2)
			for i := 0; i < rounds; i++ {
				for _, pair := range [][2]int64{{a, b}, {b, a}} {
					go func(src, dst int64) {
						defer wg.Done()
						if _, err := f.engine.Transfer(context.Background(), src, dst, 7); err != nil {
							assert.ErrorIs(t, err, domain.ErrLockTimeout)
							mu.Lock()
							failures++
							mu.Unlock()
						}
					}(pair[0], pair[1])
				}
			}
			wg.Wait()

			assert.Equal(t, int64(2000), f.balance(t, a)+f.balance(t, b))
			if order == "ascending" {
				assert.Zero(t, failures)
			}
			f.assertBalanced(t)
		})
	}
}

func TestUnknownLockOrder(t *testing.T) {
	cfg := usecase.DefaultConfig()
	cfg.LockOrder = "random"
	_, err := usecase.NewLedgerEngine(&spyStore{}, cfg, nil)
	assert.Error(t, err)
}
