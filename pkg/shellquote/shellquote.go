// Package shellquote renders commands as pasteable shell lines for logs.
package shellquote

import "strings"

// escaper covers what stays special inside double quotes, plus the control
// characters that would break a log line.
var escaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`$`, `\$`,
	"`", "\\`",
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// Quote wraps s in double quotes.
func Quote(s string) string {
	return `"` + escaper.Replace(s) + `"`
}

// Join quotes bin and every arg and joins them with spaces.
func Join(bin string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, Quote(bin))

	for _, arg := range args {
		parts = append(parts, Quote(arg))
	}

	return strings.Join(parts, " ")
}
