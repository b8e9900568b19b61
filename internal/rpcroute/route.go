package rpcroute

import (
	"fmt"
	"strings"
)

// Expand substitutes the {placeholders} of template with args, left to
// right: Expand("orders.{cid}", 7) is "orders.7".
func Expand(template string, args ...any) (string, error) {
	var b strings.Builder
	rest := template
	used := 0
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("route %q: unclosed placeholder", template)
		}
		if used == len(args) {
			return "", fmt.Errorf("route %q: missing value for %s", template, rest[open:open+end+1])
		}
		b.WriteString(rest[:open])
		fmt.Fprint(&b, args[used])
		used++
		rest = rest[open+end+1:]
	}
	if used != len(args) {
		return "", fmt.Errorf("route %q: %d placeholders, %d values", template, used, len(args))
	}
	return b.String(), nil
}
