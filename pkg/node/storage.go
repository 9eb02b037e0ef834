package node

import (
	"fmt"
	"io"

	"github.com/fortiblox/X1-Engine/pkg/config"
	"github.com/fortiblox/X1-Engine/pkg/ledger"
	"go.uber.org/zap"
)

// badgerLogger routes badger's logs to zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}

// OpenLedger opens the ledger backend named by cfg, wrapped in a read cache
// when cfg.CacheSize is positive. The closer releases the backend.
func OpenLedger(cfg config.LedgerConfig, logger *zap.Logger) (ledger.Store, io.Closer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		store  ledger.Store
		closer io.Closer
	)
	switch cfg.Backend {
	case config.BackendMemory:
		m := ledger.NewMemoryStore()
		store, closer = m, m
	case config.BackendBadger:
		bcfg := ledger.DefaultBadgerConfig(cfg.Path)
		bcfg.SyncWrites = cfg.SyncWrites
		bcfg.Logger = badgerLogger{logger.Named("badger").Sugar()}
		b, err := ledger.NewBadgerStore(bcfg)
		if err != nil {
			return nil, nil, err
		}
		store, closer = b, b
	case config.BackendLevelDB:
		l, err := ledger.NewLevelDBStore(cfg.Path, cfg.SyncWrites)
		if err != nil {
			return nil, nil, err
		}
		store, closer = l, l
	default:
		return nil, nil, fmt.Errorf("%w: unknown ledger backend %q", config.ErrInvalid, cfg.Backend)
	}

	if cfg.CacheSize > 0 {
		cached, err := ledger.NewCachedStore(store, cfg.CacheSize)
		if err != nil {
			closer.Close()
			return nil, nil, err
		}
		store = cached
	}
	return store, closer, nil
}
