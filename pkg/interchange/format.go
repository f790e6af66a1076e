package interchange

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/openclaw/interchange/pkg/serialize"
)

// FormatCurrency renders amount as US dollars with thousands separators and
// two decimals, e.g. 1234.5 -> "$1,234.50" and -3 -> "-$3.00".
func FormatCurrency(amount float64) string {
	if amount < 0 {
		return "-$" + humanize.FormatFloat("#,###.##", -amount)
	}
	return "$" + humanize.FormatFloat("#,###.##", amount)
}

// RelativeTime describes t relative to now, e.g. "3 hours ago".
func RelativeTime(t time.Time) string {
	return humanize.Time(t)
}

// FormatTable renders rows under headers as a markdown table for document
// bodies. It is serialize.Table, exposed next to the other body helpers.
func FormatTable(headers []string, rows [][]string) string {
	return serialize.Table(headers, rows)
}
