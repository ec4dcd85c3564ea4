// Package sqlutil holds small helpers shared by the database/sql stores.
package sqlutil

import (
	"strconv"
	"strings"
)

// Dollar reports whether driverName expects $n placeholders.
func Dollar(driverName string) bool {
	switch driverName {
	case "pgx", "postgres", "postgresql":
		return true
	}
	return false
}

// Rebind rewrites '?' placeholders in query to $1..$n when dollar is set.
// Queries must not contain literal question marks.
func Rebind(dollar bool, query string) string {
	if !dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
