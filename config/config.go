package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

const (
	// DefaultHomeDir is the default home directory under $HOME.
	DefaultHomeDir = ".bftchain"

	defaultConfigDir = "config"
	defaultDataDir   = "data"

	defaultConfigFileName  = "config.toml"
	defaultGenesisJSONName = "genesis.json"
	defaultPrivValKeyName  = "priv_validator_key.json"
)

var (
	defaultConfigFilePath  = filepath.Join(defaultConfigDir, defaultConfigFileName)
	defaultGenesisJSONPath = filepath.Join(defaultConfigDir, defaultGenesisJSONName)
	defaultPrivValKeyPath  = filepath.Join(defaultConfigDir, defaultPrivValKeyName)
)

// Config defines the top level configuration of a node.
type Config struct {
	BaseConfig `mapstructure:",squash"`

	Chain           *ChainConfig           `mapstructure:"chain"`
	PBFT            *PBFTConfig            `mapstructure:"pbft"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a node.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Chain:           DefaultChainConfig(),
		PBFT:            DefaultPBFTConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing.
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		Chain:           TestChainConfig(),
		PBFT:            TestPBFTConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs.
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	cfg.PBFT.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation and returns an error if any
// check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Chain.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [chain] section: %w", err)
	}
	if err := cfg.PBFT.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [pbft] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration of a node.
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// A custom human readable name for this node
	Moniker string `mapstructure:"moniker"`

	// Database backend: goleveldb | memdb
	DBBackend string `mapstructure:"db_backend"`

	// Database directory
	DBPath string `mapstructure:"db_dir"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level"`

	// Path to the JSON file containing the initial producer schedule and
	// accounts
	Genesis string `mapstructure:"genesis_file"`

	// Path to the JSON file containing the private key of the producer
	PrivValidatorKey string `mapstructure:"priv_validator_key_file"`
}

// DefaultBaseConfig returns a default base configuration for a node.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:          "anonymous",
		DBBackend:        "goleveldb",
		DBPath:           defaultDataDir,
		LogLevel:         "info",
		Genesis:          defaultGenesisJSONPath,
		PrivValidatorKey: defaultPrivValKeyPath,
	}
}

// TestBaseConfig returns a base configuration for testing a node.
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.Moniker = "test"
	cfg.DBBackend = "memdb"
	return cfg
}

// GenesisFile returns the full path to the genesis.json file.
func (cfg BaseConfig) GenesisFile() string {
	return rootify(cfg.Genesis, cfg.RootDir)
}

// PrivValidatorKeyFile returns the full path to the priv_validator_key.json file.
func (cfg BaseConfig) PrivValidatorKeyFile() string {
	return rootify(cfg.PrivValidatorKey, cfg.RootDir)
}

// DBDir returns the full path to the database directory.
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// ConfigFile returns the full path to the config.toml file.
func (cfg BaseConfig) ConfigFile() string {
	return rootify(defaultConfigFilePath, cfg.RootDir)
}

func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.DBBackend {
	case "goleveldb", "memdb":
	default:
		return fmt.Errorf("unsupported db_backend %q", cfg.DBBackend)
	}
	if cfg.LogLevel == "" {
		return errors.New("log_level can't be empty")
	}
	return nil
}

//-----------------------------------------------------------------------------
// ChainConfig

// ChainConfig defines block production timing and DPoS irreversibility.
type ChainConfig struct {
	// 出块间隔，也是一个slot的长度
	BlockInterval time.Duration `mapstructure:"block_interval"`

	// 每个出块者连续负责的slot数
	ProducerRepetitions int `mapstructure:"producer_repetitions"`

	// 需要多少比例的出块者在某区块之上出过块，该区块才是DPoS不可逆的
	IrreversibleThresholdPercent int `mapstructure:"irreversible_threshold_percent"`
}

func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		BlockInterval:                500 * time.Millisecond,
		ProducerRepetitions:          1,
		IrreversibleThresholdPercent: 75,
	}
}

func TestChainConfig() *ChainConfig {
	cfg := DefaultChainConfig()
	cfg.BlockInterval = 10 * time.Millisecond
	return cfg
}

func (cfg *ChainConfig) ValidateBasic() error {
	if cfg.BlockInterval <= 0 {
		return errors.New("block_interval must be positive")
	}
	if cfg.ProducerRepetitions <= 0 {
		return errors.New("producer_repetitions must be positive")
	}
	if cfg.IrreversibleThresholdPercent <= 0 || cfg.IrreversibleThresholdPercent > 100 {
		return errors.New("irreversible_threshold_percent must be in (0, 100]")
	}
	return nil
}

//-----------------------------------------------------------------------------
// PBFTConfig

// PBFTConfig defines the cadence of the PBFT finality layer.
type PBFTConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// 每隔多少个区块生成一次checkpoint
	CheckpointInterval int64 `mapstructure:"checkpoint_interval"`

	// 发送prepare/commit/checkpoint的周期
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// 超过该时间没有新的BFT不可逆区块则发起view change，每次重试翻倍
	ViewChangeTimeout time.Duration `mapstructure:"view_change_timeout"`

	// Directory holding the persisted consensus and checkpoint records
	DataDir string `mapstructure:"data_dir"`

	RootDir string `mapstructure:"home"`
}

func DefaultPBFTConfig() *PBFTConfig {
	return &PBFTConfig{
		Enabled:            true,
		CheckpointInterval: 100,
		TickInterval:       500 * time.Millisecond,
		ViewChangeTimeout:  10 * time.Second,
		DataDir:            filepath.Join(defaultDataDir, "pbft"),
	}
}

func TestPBFTConfig() *PBFTConfig {
	cfg := DefaultPBFTConfig()
	cfg.CheckpointInterval = 5
	cfg.TickInterval = 10 * time.Millisecond
	cfg.ViewChangeTimeout = 200 * time.Millisecond
	return cfg
}

// Dir returns the full path to the pbft records directory.
func (cfg *PBFTConfig) Dir() string {
	return rootify(cfg.DataDir, cfg.RootDir)
}

func (cfg *PBFTConfig) ValidateBasic() error {
	if cfg.CheckpointInterval <= 0 {
		return errors.New("checkpoint_interval must be positive")
	}
	if cfg.TickInterval <= 0 {
		return errors.New("tick_interval must be positive")
	}
	if cfg.ViewChangeTimeout < cfg.TickInterval {
		return errors.New("view_change_timeout can't be shorter than tick_interval")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		Namespace:            "bftchain",
	}
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
