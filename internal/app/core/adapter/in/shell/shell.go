package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// Ledger 是 shell 需要的帳務操作
type Ledger interface {
	CreateAccount(ctx context.Context, name string, initialBalance int64) (int64, error)
	Account(ctx context.Context, number int64) (*domain.Account, error)
	Deposit(ctx context.Context, number int64, amount int64) (int64, error)
	Withdraw(ctx context.Context, number int64, amount int64) (int64, error)
	Transfer(ctx context.Context, source, target int64, amount int64) (*usecase.TransferResult, error)
}

// 選單代碼
const (
	codeExit     = 0
	codeCreate   = 1
	codeBalance  = 2
	codeDeposit  = 3
	codeWithdraw = 4
	codeTransfer = 5
	codeLogout   = 9
)

// errEOF 輸入結束
var errEOF = errors.New("end of input")

// Shell 互動式選單
type Shell struct {
	ledger  Ledger
	in      *bufio.Scanner
	out     io.Writer
	timeout time.Duration
	logger  *zap.Logger
	session Session
}

// New 建立 shell，timeout 為每個操作的期限 (0 表示不限)
func New(ledger Ledger, in io.Reader, out io.Writer, timeout time.Duration, logger *zap.Logger) *Shell {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shell{
		ledger:  ledger,
		in:      bufio.NewScanner(in),
		out:     out,
		timeout: timeout,
		logger:  logger,
	}
}

// Session 回傳目前 session 狀態
func (s *Shell) Session() Session {
	return s.session
}

// Run 重複顯示選單直到使用者離開或輸入結束
func (s *Shell) Run(ctx context.Context) error {
	defer banner(s.out, "Connection has been terminated")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.displayOptions()
		code, err := s.readInt("Enter a code")
		if err != nil {
			return nil
		}
		exit, err := s.selectOption(ctx, code)
		if err != nil {
			return nil
		}
		if exit {
			return nil
		}
	}
}

func (s *Shell) displayOptions() {
	banner(s.out, "Main Menu")
	if s.session.IsLoggedIn() {
		fmt.Fprintf(s.out, "Account logged in: %d\n\n", s.session.AccountNumber)
	}
	fmt.Fprint(s.out, "1 - Create an Account\n"+
		"2 - Check Balance\n"+
		"3 - Deposit\n"+
		"4 - Withdraw\n"+
		"5 - Transfer\n"+
		"9 - Log out\n"+
		"0 - Log out and Exit\n\n")
}

// selectOption 執行選項，回傳 true 代表離開
// 回傳的錯誤只有 errEOF
func (s *Shell) selectOption(ctx context.Context, code int64) (bool, error) {
	switch code {
	case codeCreate:
		s.session.Clear()
		return false, s.createAccount(ctx)
	case codeBalance, codeDeposit, codeWithdraw, codeTransfer:
		if !s.session.IsLoggedIn() {
			ok, err := s.login(ctx)
			if err != nil || !ok {
				return false, err
			}
		}
		switch code {
		case codeBalance:
			s.checkBalance(ctx)
			return false, nil
		case codeDeposit:
			return false, s.changeBalance(ctx, "Deposit", s.ledger.Deposit)
		case codeWithdraw:
			return false, s.changeBalance(ctx, "Withdraw", s.ledger.Withdraw)
		default:
			return false, s.transfer(ctx)
		}
	case codeLogout:
		s.session.Clear()
	case codeExit:
		s.session.Clear()
		return true, nil
	default:
		banner(s.out, "Invalid code - Please try again")
	}
	return false, nil
}

// login 要求輸入帳號直到找到帳戶
// 儲存層錯誤時回到選單，回傳 false
func (s *Shell) login(ctx context.Context) (bool, error) {
	for {
		number, err := s.readInt("Account Number")
		if err != nil {
			return false, err
		}
		opCtx, cancel := s.opContext(ctx)
		account, err := s.ledger.Account(opCtx, number)
		cancel()
		switch {
		case err == nil:
			s.session.Login(account)
			return true, nil
		case errors.Is(err, domain.ErrAccountNotFound):
			fmt.Fprint(s.out, "Account does not exist. Please try again.\n\n")
		default:
			s.session.Clear()
			banner(s.out, "Database Error")
			return false, nil
		}
	}
}

func (s *Shell) createAccount(ctx context.Context) error {
	name, err := s.readString("Enter an Account Name")
	if err != nil {
		return err
	}
	balance, err := s.readInt("Enter initial balance")
	if err != nil {
		return err
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	number, err := s.ledger.CreateAccount(opCtx, name, balance)
	if err != nil {
		banner(s.out, "Account creation unsuccessful")
		return nil
	}
	banner(s.out, "Account successfully created")
	fmt.Fprintf(s.out, "Account Number: %d\n", number)
	return nil
}

func (s *Shell) checkBalance(ctx context.Context) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	account, err := s.ledger.Account(opCtx, s.session.AccountNumber)
	if err != nil {
		banner(s.out, "Check Balance unsuccessful")
		return
	}
	renderAccounts(s.out, account)
}

func (s *Shell) changeBalance(ctx context.Context, action string, op func(context.Context, int64, int64) (int64, error)) error {
	amount, err := s.readInt(action + " Amount")
	if err != nil {
		return err
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	balance, err := op(opCtx, s.session.AccountNumber, amount)
	if err != nil {
		banner(s.out, action+" unsuccessful")
		return nil
	}
	renderAccounts(s.out, s.current(balance))
	return nil
}

func (s *Shell) transfer(ctx context.Context) error {
	target, err := s.readInt("Target Account Number")
	if err != nil {
		return err
	}
	amount, err := s.readInt("Transfer Amount")
	if err != nil {
		return err
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	result, err := s.ledger.Transfer(opCtx, s.session.AccountNumber, target, amount)
	if err != nil {
		var terr *domain.TransferError
		if errors.As(err, &terr) {
			switch terr.Stage {
			case domain.TransferStageSource:
				banner(s.out, "Source Account error")
			case domain.TransferStageTarget:
				banner(s.out, "Target Account error")
			}
		}
		banner(s.out, "Transfer unsuccessful")
		return nil
	}
	renderAccounts(s.out, result.Source, result.Target)
	return nil
}

// current 以 session 資料組出目前帳戶的顯示資料
func (s *Shell) current(balance int64) *domain.Account {
	return domain.NewAccount(s.session.AccountNumber, s.session.Name, balance, s.session.OpenDate)
}

func (s *Shell) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

// readInt 重複詢問直到輸入整數
func (s *Shell) readInt(prompt string) (int64, error) {
	for {
		line, err := s.readString(prompt)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(line, 10, 64)
		if err == nil {
			return v, nil
		}
		fmt.Fprint(s.out, "Please try again.\n")
	}
}

func (s *Shell) readString(prompt string) (string, error) {
	fmt.Fprintf(s.out, "%s: ", prompt)
	if !s.in.Scan() {
		if err := s.in.Err(); err != nil {
			s.logger.Error("read input", zap.Error(err))
		}
		return "", errEOF
	}
	return strings.TrimSpace(s.in.Text()), nil
}
