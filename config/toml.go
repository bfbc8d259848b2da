package config

import (
	"bytes"
	"path/filepath"
	"text/template"

	"github.com/spf13/viper"
	tmos "github.com/tendermint/tendermint/libs/os"
)

// DefaultDirPerm is the default permissions used when creating directories.
const DefaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate")
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't
// exist, and writes the default config file if it doesn't exist.
func EnsureRoot(rootDir string) {
	if err := tmos.EnsureDir(rootDir, DefaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := tmos.EnsureDir(filepath.Join(rootDir, defaultConfigDir), DefaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := tmos.EnsureDir(filepath.Join(rootDir, defaultDataDir), DefaultDirPerm); err != nil {
		panic(err.Error())
	}

	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)

	// Write default config file if missing.
	if !tmos.FileExists(configFilePath) {
		writeDefaultConfigFile(configFilePath)
	}
}

// XXX: this func should probably be called by cmd/commands/init.go
// alongside the writing of the genesis.json and priv_validator.json
func writeDefaultConfigFile(configFilePath string) {
	WriteConfigFile(configFilePath, DefaultConfig())
}

// WriteConfigFile renders config using the template and writes it to
// configFilePath.
func WriteConfigFile(configFilePath string, config *Config) {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, config); err != nil {
		panic(err)
	}

	tmos.MustWriteFile(configFilePath, buffer.Bytes(), 0644)
}

// LoadConfig reads $home/config/config.toml on top of the defaults.
func LoadConfig(home string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(filepath.Join(home, defaultConfigDir))
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	conf := DefaultConfig()
	if err := v.Unmarshal(conf); err != nil {
		return nil, err
	}
	conf.SetRoot(home)
	return conf, conf.ValidateBasic()
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/myawesomeapp/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.bftchain" by default, but could be changed via $BC_HOME env variable
# or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# Database backend: goleveldb | memdb
db_backend = "{{ .BaseConfig.DBBackend }}"

# Database directory
db_dir = "{{ js .BaseConfig.DBPath }}"

# Output level for logging, including package level options
log_level = "{{ .BaseConfig.LogLevel }}"

# Path to the JSON file containing the initial producer schedule and accounts
genesis_file = "{{ js .BaseConfig.Genesis }}"

# Path to the JSON file containing the private key of the producer
priv_validator_key_file = "{{ js .BaseConfig.PrivValidatorKey }}"

#######################################################################
###                 Chain Configuration Options                     ###
#######################################################################
[chain]

# Length of a production slot
block_interval = "{{ .Chain.BlockInterval }}"

# Consecutive slots given to each producer
producer_repetitions = {{ .Chain.ProducerRepetitions }}

# Share of producers that must build on a block before it is irreversible
irreversible_threshold_percent = {{ .Chain.IrreversibleThresholdPercent }}

#######################################################################
###                  PBFT Configuration Options                     ###
#######################################################################
[pbft]

enabled = {{ .PBFT.Enabled }}

# A checkpoint is proposed every checkpoint_interval blocks
checkpoint_interval = {{ .PBFT.CheckpointInterval }}

# How often prepares, commits and checkpoints are sent
tick_interval = "{{ .PBFT.TickInterval }}"

# A view change starts when no block became final for this long
view_change_timeout = "{{ .PBFT.ViewChangeTimeout }}"

# Directory holding the persisted consensus and checkpoint records
data_dir = "{{ js .PBFT.DataDir }}"

#######################################################################
###                 Instrumentation Configuration                   ###
#######################################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# PrometheusListenAddr.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus_listen_addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`
