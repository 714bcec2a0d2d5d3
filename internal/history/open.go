package history

import (
	"errors"
	"strings"

	"dcawatch/pkg/logx"
)

// Open initialises the configured store. It returns (nil, nil) when the
// driver is empty or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	cfg = cfg.withDefaults()
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none":
		return nil, nil
	case "memory":
		return newMemStore(cfg), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}
