package shell

import (
	"time"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// LoginState 互動 session 的登入狀態
type LoginState uint8

const (
	LoggedOut LoginState = iota
	LoggedIn
)

// Session 保存目前操作的帳戶，與無狀態的 LedgerEngine 並排使用
// 只作為顯示用途，每次操作仍由引擎重新讀取帳戶
type Session struct {
	AccountNumber int64
	Name          string
	OpenDate      time.Time
	State         LoginState
}

// Login 記住目前帳戶
func (s *Session) Login(account *domain.Account) {
	s.AccountNumber = account.Number
	s.Name = account.Name
	s.OpenDate = account.OpenDate
	s.State = LoggedIn
}

// Clear 登出並清空 session
func (s *Session) Clear() {
	*s = Session{}
}

func (s *Session) IsLoggedIn() bool {
	return s.State == LoggedIn
}
