package multiworld

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"minefield.ai/internal/sim/world"
	"minefield.ai/internal/sim/world/chunks"
	"minefield.ai/internal/sim/world/terrain/gen"
)

const (
	BackendMemory  = "memory"
	BackendSQLite  = "sqlite"
	BackendRedis   = "redis"
	BackendLevelDB = "leveldb"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Game    GameDefaults  `yaml:"game"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`
	DataDir string `yaml:"data_dir"`

	ActionTimeout       time.Duration `yaml:"action_timeout"`
	MaxSubscribeRadius  int           `yaml:"max_subscribe_radius"`
	MaxSubscribedChunks int           `yaml:"max_subscribed_chunks"`
	SessionQueue        int           `yaml:"session_queue"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	// SQLitePath holds the games catalog and, with the sqlite backend, the
	// overrides. Relative paths are resolved under Server.DataDir.
	SQLitePath string      `yaml:"sqlite_path"`
	LevelDBDir string      `yaml:"leveldb_dir"`
	Redis      RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	Timeout  time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	// JWTSecret enables token checks on HELLO when non-empty.
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type GameDefaults struct {
	MineThreshold        float64 `yaml:"mine_threshold"`
	NoiseFrequency       float64 `yaml:"noise_frequency"`
	CoordLimit           int     `yaml:"coord_limit"`
	MaxDriveChunks       int     `yaml:"max_drive_chunks"`
	SnapshotEveryActions int     `yaml:"snapshot_every_actions"`
	InboxSize            int     `yaml:"inbox_size"`
}

// LoadConfig reads a yaml config over the defaults. An empty path yields
// the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:                ":8080",
			DataDir:             "./data",
			ActionTimeout:       3 * time.Second,
			MaxSubscribeRadius:  4,
			MaxSubscribedChunks: 81,
			SessionQueue:        256,
		},
		Storage: StorageConfig{
			Backend:    BackendSQLite,
			SQLitePath: "minefield.db",
			LevelDBDir: "overrides.ldb",
			Redis:      RedisConfig{Addr: "127.0.0.1:6379", Prefix: "minefield", Timeout: 2 * time.Second},
		},
		Game: GameDefaults{
			MineThreshold:        gen.DefaultMineThreshold,
			NoiseFrequency:       gen.DefaultNoiseFrequency,
			CoordLimit:           world.DefaultCoordLimit,
			MaxDriveChunks:       chunks.DefaultMaxDriveChunks,
			SnapshotEveryActions: 500,
			InboxSize:            256,
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendSQLite
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = "./data"
	}
	if c.Server.ActionTimeout <= 0 {
		c.Server.ActionTimeout = 3 * time.Second
	}
	if c.Server.SessionQueue <= 0 {
		c.Server.SessionQueue = 256
	}
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "minefield"
	}
}

func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite, BackendRedis, BackendLevelDB:
	default:
		return fmt.Errorf("storage.backend %q must be one of memory, sqlite, redis, leveldb", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendRedis && strings.TrimSpace(c.Storage.Redis.Addr) == "" {
		return fmt.Errorf("storage.redis.addr must not be empty")
	}
	if c.Server.MaxSubscribeRadius < 0 {
		return fmt.Errorf("server.max_subscribe_radius must be >= 0")
	}
	if c.Server.MaxSubscribedChunks <= 0 {
		return fmt.Errorf("server.max_subscribed_chunks must be > 0")
	}
	g := c.Game
	if g.MineThreshold <= 0 || g.MineThreshold >= 1 {
		return fmt.Errorf("game.mine_threshold must be in (0,1)")
	}
	if g.NoiseFrequency <= 0 {
		return fmt.Errorf("game.noise_frequency must be > 0")
	}
	if g.CoordLimit <= 0 {
		return fmt.Errorf("game.coord_limit must be > 0")
	}
	if g.SnapshotEveryActions < 0 {
		return fmt.Errorf("game.snapshot_every_actions must be >= 0")
	}
	return nil
}

// GameConfig builds the world config for a new game from the defaults and
// the per-game overrides in spec.
func (c Config) GameConfig(spec GameSpec) world.GameConfig {
	out := world.GameConfig{
		ID:                   spec.ID,
		Seed:                 spec.Seed,
		SeedText:             spec.SeedText,
		MineThreshold:        c.Game.MineThreshold,
		NoiseFrequency:       c.Game.NoiseFrequency,
		CoordLimit:           c.Game.CoordLimit,
		MaxDriveChunks:       c.Game.MaxDriveChunks,
		InboxSize:            c.Game.InboxSize,
		SnapshotEveryActions: c.Game.SnapshotEveryActions,
	}
	if spec.MineThreshold > 0 {
		out.MineThreshold = spec.MineThreshold
	}
	if spec.NoiseFrequency > 0 {
		out.NoiseFrequency = spec.NoiseFrequency
	}
	return out
}
