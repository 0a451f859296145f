package shell

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

const (
	pageWidth  = 60
	dateLayout = "2006-01-02 15:04:05"
)

// banner 在訊息兩側補上虛線置中
func banner(w io.Writer, msg string) {
	side := 0
	if pageWidth > len(msg)+1 {
		side = (pageWidth - len(msg)) / 2
	}
	fmt.Fprintf(w, "\n%s%s%s\n\n", strings.Repeat("-", side), msg, strings.Repeat("-", side))
}

// renderAccounts 以表格列出帳戶
func renderAccounts(w io.Writer, accounts ...*domain.Account) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "Name", "Balance", "Open Date")
	for _, a := range accounts {
		t.Row(strconv.FormatInt(a.Number, 10), a.Name, strconv.FormatInt(a.Balance, 10), formatDate(a.OpenDate))
	}
	fmt.Fprintf(w, "\n%s\n", t.Render())
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format(dateLayout)
}
