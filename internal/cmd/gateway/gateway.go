// Package gateway wires configuration parsing to the gateway server.
package gateway

import (
	"context"
	"flag"

	"github.com/louisbranch/hollowgate/internal/gateway/app"
	"github.com/louisbranch/hollowgate/internal/platform/config"
)

// Config holds gateway command configuration.
type Config struct {
	Addr          string `env:"HOLLOWGATE_ADDR" envDefault:"localhost:10999"`
	DBPath        string `env:"HOLLOWGATE_DB_PATH" envDefault:"gateway.db"`
	ScriptDir     string `env:"HOLLOWGATE_SCRIPT_DIR"`
	ConstantsPath string `env:"HOLLOWGATE_CONSTANTS_PATH"`
	AuditDir      string `env:"HOLLOWGATE_AUDIT_DIR"`
	MaxPayload    int    `env:"HOLLOWGATE_MAX_PAYLOAD"`
	SessionKey    string `env:"HOLLOWGATE_SESSION_KEY"`
}

// ParseConfig loads configuration from the environment and parses flag
// overrides on top.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The gateway HTTP server address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the gateway SQLite database")
	fs.StringVar(&cfg.ScriptDir, "scripts", cfg.ScriptDir, "Directory of webapp/webgame Lua scripts")
	fs.StringVar(&cfg.ConstantsPath, "constants", cfg.ConstantsPath, "Path to the server constants YAML file")
	fs.StringVar(&cfg.AuditDir, "audit-dir", cfg.AuditDir, "Directory for the request audit journal (empty disables)")
	fs.IntVar(&cfg.MaxPayload, "max-payload", cfg.MaxPayload, "Maximum request payload size in bytes")
	fs.StringVar(&cfg.SessionKey, "session-key", cfg.SessionKey, "Signing key for client session identifiers")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the gateway server.
func Run(ctx context.Context, cfg Config) error {
	return app.Run(ctx, app.Config{
		Addr:          cfg.Addr,
		DBPath:        cfg.DBPath,
		ScriptDir:     cfg.ScriptDir,
		ConstantsPath: cfg.ConstantsPath,
		AuditDir:      cfg.AuditDir,
		MaxPayload:    cfg.MaxPayload,
		SessionKey:    cfg.SessionKey,
	})
}
