package kvstore

import (
	"go.uber.org/zap"
)

// Args selects and configures a backend.
type Args struct {
	// Type is one of "memory", "sqlite", "mysql" and "redis".
	Type string `yaml:"type"`
	// Address is a sqlite file path, a mysql DSN or a redis host:port.
	Address   string `yaml:"address"`
	RedisDB   int    `yaml:"redis_db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Open builds the backend described by args.
func Open(args Args, logger *zap.Logger) (Backend, error) {
	switch args.Type {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "mysql":
		return OpenSQL(args.Type, args.Address, logger)
	case "redis":
		return OpenRedis(args.Address, args.RedisDB, args.KeyPrefix)
	default:
		return nil, ErrUnsupportedType
	}
}
