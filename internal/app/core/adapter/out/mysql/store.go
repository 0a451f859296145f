package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
)

// MySQL server error numbers
const (
	errLockWaitTimeout = 1205
	errLockDeadlock    = 1213
	errOutOfRange      = 1264
)

// sqlAccount 對應資料庫的 accounts 表
type sqlAccount struct {
	AccountNo int64     `gorm:"column:account_no;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;size:255;not null"`
	Balance   int64     `gorm:"column:balance;not null;default:0"`
	OpenDate  time.Time `gorm:"column:open_date;autoCreateTime"`
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

func (a *sqlAccount) toDomain() *domain.Account {
	return domain.NewAccount(a.AccountNo, a.Name, a.Balance, a.OpenDate)
}

// sqlTransaction 對應資料庫的 transactions 表
type sqlTransaction struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	RefID       []byte `gorm:"column:ref_id;type:binary(16);uniqueIndex"` // 對應 domain.TransactionID
	Type        uint8  `gorm:"column:type"`
	FromAccount int64  `gorm:"column:from_account;index"`
	ToAccount   int64  `gorm:"column:to_account;index"`
	Amount      int64  `gorm:"column:amount"`
	CreatedAt   int64  `gorm:"column:created_at;autoCreateTime:milli"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

// MySQLStore 以 MySQL 交易與 SELECT ... FOR UPDATE 實作儲存層
type MySQLStore struct {
	client *mysql.Client
}

func NewMySQLStore(client *mysql.Client) *MySQLStore {
	return &MySQLStore{
		client: client,
	}
}

// Migrate 建立或更新 accounts、transactions 表
func (s *MySQLStore) Migrate(ctx context.Context) error {
	if err := s.client.DB().WithContext(ctx).AutoMigrate(&sqlAccount{}, &sqlTransaction{}); err != nil {
		return domain.NewStoreError("migrate", err)
	}
	return nil
}

// Begin 從連線池取得一條連線並開啟交易
func (s *MySQLStore) Begin(ctx context.Context) (usecase.TransactionContext, error) {
	tx := s.client.DB().WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, translate("begin", tx.Error)
	}
	return &mysqlTx{tx: tx}, nil
}

// mysqlTx 包裝一個 *gorm.DB 交易
type mysqlTx struct {
	tx   *gorm.DB
	done bool
}

func (t *mysqlTx) FetchAccount(ctx context.Context, number int64, exclusiveLock bool) (*domain.Account, error) {
	if t.done {
		return nil, domain.ErrTxDone
	}
	var row sqlAccount
	if err := fetchQuery(t.tx.WithContext(ctx), number, exclusiveLock).Take(&row).Error; err != nil {
		return nil, translate("fetch account", err)
	}
	return row.toDomain(), nil
}

func (t *mysqlTx) InsertAccount(ctx context.Context, name string, balance int64) (int64, error) {
	if t.done {
		return 0, domain.ErrTxDone
	}
	row := sqlAccount{Name: name, Balance: balance}
	if err := t.tx.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, translate("insert account", err)
	}
	return row.AccountNo, nil
}

func (t *mysqlTx) UpdateBalance(ctx context.Context, number int64, balance int64) error {
	if t.done {
		return domain.ErrTxDone
	}
	// MySQL 預設回傳 changed rows，餘額不變時 RowsAffected 為 0，所以不檢查
	if err := updateQuery(t.tx.WithContext(ctx), number, balance).Error; err != nil {
		return translate("update balance", err)
	}
	return nil
}

func (t *mysqlTx) RecordTransaction(ctx context.Context, tran *domain.Transaction) error {
	if t.done {
		return domain.ErrTxDone
	}
	row := sqlTransaction{
		RefID:       tran.TransactionID[:],
		Type:        uint8(tran.Type),
		FromAccount: tran.From,
		ToAccount:   tran.To,
		Amount:      tran.Amount,
		CreatedAt:   tran.CreatedAt,
	}
	if err := t.tx.WithContext(ctx).Create(&row).Error; err != nil {
		return translate("record transaction", err)
	}
	return nil
}

func (t *mysqlTx) Commit() error {
	if t.done {
		return domain.ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit().Error; err != nil {
		return translate("commit", err)
	}
	return nil
}

// Rollback 也會在 Commit 失敗後被呼叫，此時 driver 已經結束交易
func (t *mysqlTx) Rollback() error {
	if t.done {
		return domain.ErrTxDone
	}
	t.done = true
	if err := t.tx.Rollback().Error; err != nil {
		return translate("rollback", err)
	}
	return nil
}

// fetchQuery 依帳號查詢，exclusiveLock 時加上 FOR UPDATE
func fetchQuery(db *gorm.DB, number int64, exclusiveLock bool) *gorm.DB {
	q := db.Where("account_no = ?", number)
	if exclusiveLock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func updateQuery(db *gorm.DB, number int64, balance int64) *gorm.DB {
	return db.Model(&sqlAccount{}).Where("account_no = ?", number).Update("balance", balance)
}

// translate 把 GORM / driver 錯誤轉成 domain 錯誤分類
func translate(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrAccountNotFound
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errLockDeadlock:
			err = fmt.Errorf("%w: %w", domain.ErrDeadlock, err)
		case errLockWaitTimeout:
			err = fmt.Errorf("%w: %w", domain.ErrLockTimeout, err)
		case errOutOfRange:
			// strict mode 下 BIGINT 溢位，語意上是業務錯誤而非連線問題
			return fmt.Errorf("%w: %w", domain.ErrBalanceOverflow, err)
		}
	}
	return domain.NewStoreError(op, err)
}

var (
	_ usecase.Store              = (*MySQLStore)(nil)
	_ usecase.TransactionContext = (*mysqlTx)(nil)
)
