package domain

import "time"

// Account 帳戶資料列
// 由 Store 獨佔持有，引擎不跨呼叫快取
type Account struct {
	// Number: 帳號，由儲存層分配，建立後不可變
	Number int64
	// Name: 戶名
	Name string
	// Balance: 餘額 (整數單位，可為負)
	Balance int64
	// OpenDate: 開戶時間
	OpenDate time.Time
}

// NewAccount 建立帳戶物件
func NewAccount(number int64, name string, balance int64, openDate time.Time) *Account {
	return &Account{
		Number:   number,
		Name:     name,
		Balance:  balance,
		OpenDate: openDate,
	}
}

// Clone 回傳一份獨立副本，避免呼叫端改到儲存層的資料
func (a *Account) Clone() *Account {
	c := *a
	return &c
}
