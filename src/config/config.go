package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/consensus"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the validator's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultValidatorsFile is the default name of the file containing the
	// validator set
	DefaultValidatorsFile = "validators.json"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultSignStateFile is the default name of the bolt database recording
	// the last signed round and step
	DefaultSignStateFile = "sign_state.db"
)

// Default configuration values.
const (
	DefaultLogLevel       = "debug"
	DefaultBindAddr       = "127.0.0.1:1337"
	DefaultServiceAddr    = "127.0.0.1:8000"
	DefaultTCPTimeout     = 1000 * time.Millisecond
	DefaultMaxPool        = 2
	DefaultStore          = false
	DefaultProposeTimeout = 3000 * time.Millisecond
	DefaultTimeoutDelta   = 500 * time.Millisecond
	DefaultVoteTimeout    = 1000 * time.Millisecond
	DefaultCommitTimeout  = 1000 * time.Millisecond
	DefaultBatchSize      = 512
	DefaultPoolSize       = 8192
	DefaultClockSkew      = 10 * time.Minute
)

// Config contains all the configuration properties of a notarius node.
type Config struct {
	// DataDir is the top-level directory containing notarius configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// BindAddr is the local address:port where this node talks to the other
	// validators. In some cases, there may be a routable address that cannot
	// be bound. Use AdvertiseAddr to advertise a different address to support
	// this.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// validators.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP API service.
	ServiceAddr string `mapstructure:"service-listen"`

	// MaxPool controls how many connections are pooled per target in the
	// consensus routines.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout of consensus RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// ProposeTimeout is how long a validator waits for the round leader's
	// proposal before prevoting nil.
	ProposeTimeout time.Duration `mapstructure:"propose-timeout"`

	// VoteTimeout is how long a validator waits for a quorum of prevotes or
	// precommits before moving on.
	VoteTimeout time.Duration `mapstructure:"vote-timeout"`

	// TimeoutDelta is added to the propose and vote timeouts for every round
	// that passes without a commit.
	TimeoutDelta time.Duration `mapstructure:"timeout-delta"`

	// BatchSize is the max number of transactions batched into one block.
	BatchSize int `mapstructure:"batch-size"`

	// PoolSize is the max number of pending transactions held in memory.
	PoolSize int `mapstructure:"pool-size"`

	// ClockSkew is the tolerated drift between a submitter's clock and ours.
	ClockSkew time.Duration `mapstructure:"clock-skew"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// Key is the private key of the validator.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:        DefaultDataDir(),
		LogLevel:       DefaultLogLevel,
		BindAddr:       DefaultBindAddr,
		ServiceAddr:    DefaultServiceAddr,
		TCPTimeout:     DefaultTCPTimeout,
		MaxPool:        DefaultMaxPool,
		ProposeTimeout: DefaultProposeTimeout,
		VoteTimeout:    DefaultVoteTimeout,
		TimeoutDelta:   DefaultTimeoutDelta,
		BatchSize:      DefaultBatchSize,
		PoolSize:       DefaultPoolSize,
		ClockSkew:      DefaultClockSkew,
		Store:          DefaultStore,
		DatabaseDir:    DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	return config
}

// ConsensusConfig maps the flat configuration onto the consensus engine's
// config object.
func (c *Config) ConsensusConfig() consensus.Config {
	conf := consensus.DefaultConfig()
	conf.Timeouts = consensus.Timeouts{
		Propose:        c.ProposeTimeout,
		ProposeDelta:   c.TimeoutDelta,
		PreVote:        c.VoteTimeout,
		PreVoteDelta:   c.TimeoutDelta,
		PreCommit:      c.VoteTimeout,
		PreCommitDelta: c.TimeoutDelta,
		Commit:         DefaultCommitTimeout,
	}
	conf.BatchSize = c.BatchSize
	conf.PoolSize = c.PoolSize
	conf.ClockSkew = c.ClockSkew
	return conf
}

// SetDataDir sets the top-level notarius directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// ValidatorsFile returns the full path of the file containing the validator
// set.
func (c *Config) ValidatorsFile() string {
	return filepath.Join(c.DataDir, DefaultValidatorsFile)
}

// SignStateFile returns the full path of the double-sign protection database.
func (c *Config) SignStateFile() string {
	return filepath.Join(c.DataDir, DefaultSignStateFile)
}

// Logger returns a formatted logrus Entry, with prefix set to "notarius".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "notarius")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level notarius
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Notarius")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Notarius")
		} else {
			return filepath.Join(home, ".notarius")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
