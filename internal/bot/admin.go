package bot

import (
	"log/slog"
	"strconv"
	"strings"
)

// DefaultAdminID is the fallback administrator used when ADMIN_IDS is unset
// or unparseable.
const DefaultAdminID int64 = 761662415

// ParseAdminIDs parses a comma-separated allow-list of account identifiers.
// An empty or invalid list falls back to the default administrator.
func ParseAdminIDs(raw string) []int64 {
	if strings.TrimSpace(raw) == "" {
		return []int64{DefaultAdminID}
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			slog.Warn("ADMIN_IDS entry invalid, falling back to default admin", "entry", part)
			return []int64{DefaultAdminID}
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return []int64{DefaultAdminID}
	}
	return ids
}
