package commands

import (
	"os"
	"path/filepath"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notarius/notarius/src/notarius"
)

//NewRunCmd returns the command that starts a notarius node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runNotarius,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runNotarius(cmd *cobra.Command, args []string) error {
	engine := notarius.NewNotarius(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for notarius node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for notarius node")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Do not start the HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")

	// Consensus
	cmd.Flags().Duration("propose-timeout", _config.ProposeTimeout, "Time to wait for the round leader's proposal")
	cmd.Flags().Duration("vote-timeout", _config.VoteTimeout, "Time to wait for a quorum of votes")
	cmd.Flags().Duration("timeout-delta", _config.TimeoutDelta, "Timeout increment per empty round")
	cmd.Flags().Int("batch-size", _config.BatchSize, "Max transactions per block")
	cmd.Flags().Int("pool-size", _config.PoolSize, "Max pending transactions")
	cmd.Flags().Duration("clock-skew", _config.ClockSkew, "Tolerated submitter clock drift")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	addLogFileHook(_config.Logger().Logger, _config.DataDir)

	logFields := logrus.Fields{
		"DataDir":        _config.DataDir,
		"BindAddr":       _config.BindAddr,
		"AdvertiseAddr":  _config.AdvertiseAddr,
		"ServiceAddr":    _config.ServiceAddr,
		"NoService":      _config.NoService,
		"MaxPool":        _config.MaxPool,
		"TCPTimeout":     _config.TCPTimeout,
		"Store":          _config.Store,
		"LogLevel":       _config.LogLevel,
		"Moniker":        _config.Moniker,
		"ProposeTimeout": _config.ProposeTimeout,
		"VoteTimeout":    _config.VoteTimeout,
		"TimeoutDelta":   _config.TimeoutDelta,
		"BatchSize":      _config.BatchSize,
		"PoolSize":       _config.PoolSize,
		"ClockSkew":      _config.ClockSkew,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/notarius.toml (.json, .yaml also work)
	viper.SetConfigName("notarius")
	viper.AddConfigPath(_config.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

// addLogFileHook duplicates info and debug output to log files in the
// datadir, leaving stderr output untouched.
func addLogFileHook(logger *logrus.Logger, datadir string) {
	pathMap := lfshook.PathMap{}

	infoPath := filepath.Join(datadir, "notarius_info.log")
	if _, err := os.OpenFile(infoPath, os.O_CREATE|os.O_WRONLY, 0666); err != nil {
		logger.Info("Failed to open notarius_info.log file, using default stderr")
	} else {
		pathMap[logrus.InfoLevel] = infoPath
	}

	debugPath := filepath.Join(datadir, "notarius_debug.log")
	if _, err := os.OpenFile(debugPath, os.O_CREATE|os.O_WRONLY, 0666); err != nil {
		logger.Info("Failed to open notarius_debug.log file, using default stderr")
	} else {
		pathMap[logrus.DebugLevel] = debugPath
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}
