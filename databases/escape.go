package databases

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/melkeydev/treedb/types"
)

// EscapeValue renders v as an inline SQL literal. It is only used where a
// WHERE fragment is built from a value; bound parameters never pass through
// here.
func EscapeValue(v any) string {
	return types.ValueOf(v).SQLLiteral()
}

// ValidName accepts letters, digits, '_' and '-'. It is a whitelist, not a
// full SQL identifier check.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for _, ch := range name {
		if !unicode.IsLetter(ch) && !unicode.IsNumber(ch) && ch != '_' && ch != '-' {
			return false
		}
	}
	return true
}

func equals(column string, v any) string {
	return fmt.Sprintf("%s = %s", column, EscapeValue(v))
}

func sortedColumns(values types.Values) []string {
	columns := make([]string, 0, len(values))
	for col := range values {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}

func bindArgs(values []any) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = types.ValueOf(v)
	}
	return args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
