//go:build purego

package sqlite

import (
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	driverName = "sqlite"
	driverType = "purego"
)

func dataSource(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", path, sep, busyTimeoutMillis)
}
