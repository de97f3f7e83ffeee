package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
	"github.com/zsasuite/zsawallet/internal/cfgutil"
	"github.com/zsasuite/zsawallet/netparams"
	"github.com/zsasuite/zsawallet/shielded"
)

const (
	defaultConfigFilename = "zsawallet.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "zsawallet.log"
	defaultNetwork        = "mainnet"
	defaultRPCHost        = "localhost"
	walletDbName          = "wallet.db"
)

var (
	defaultAppDataDir = btcutil.AppDataDir("zsawallet", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

// config houses the options of every command. Command specific options live
// in the command structs.
type config struct {
	// General application behavior
	ConfigFile  *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool                    `short:"V" long:"version" description:"Display version information and exit"`
	AppDataDir  *cfgutil.ExplicitString `short:"A" long:"appdata" description:"Application data directory for wallet config, databases and logs"`
	LogDir      string                  `long:"logdir" description:"Directory to log output."`
	DebugLevel  string                  `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	Network     string                  `long:"network" description:"Network to use" choice:"mainnet" choice:"testnet" choice:"regtest"`

	// Wallet options
	Create    bool   `long:"create" description:"Create the wallet if it does not exist"`
	Birthday  int32  `long:"birthday" description:"First block height a new wallet scans (default: NU5 activation height)"`
	Mnemonic  string `long:"mnemonic" description:"Wallet mnemonic; prompted for when not set"`
	Seed      string `long:"seed" description:"Hex encoded wallet seed, used instead of a mnemonic"`
	WatchOnly bool   `long:"watchonly" description:"Open or create a wallet without a seed"`

	// RPC client options
	RPCConnect string `short:"c" long:"rpcconnect" description:"Hostname/IP and port of the zcash node RPC server to connect to"`
	RPCUser    string `short:"u" long:"rpcuser" description:"Username for the node's RPC server"`
	RPCPass    string `short:"P" long:"rpcpass" default-mask:"-" description:"Password for the node's RPC server"`
	RPCCert    string `long:"rpccert" description:"File containing the node's certificate; TLS is disabled when empty"`
	Proxy      string `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser  string `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass  string `long:"proxypass" default-mask:"-" description:"Password for proxy server"`

	// Commands
	Sync      syncCommand      `command:"sync" description:"Sync the wallet with the node"`
	Balance   balanceCommand   `command:"balance" description:"Show the balance of an account"`
	Address   addressCommand   `command:"address" description:"Show the default address of an account"`
	SpendPlan spendPlanCommand `command:"spendplan" description:"Select the notes paying an amount"`
	Reset     resetCommand     `command:"reset" description:"Forget every note and resync from the birthday"`
	Rewind    rewindCommand    `command:"rewind" description:"Disconnect every block above a height"`
}

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace":
		fallthrough
	case "debug":
		fallthrough
	case "info":
		fallthrough
	case "warn":
		fallthrough
	case "error":
		fallthrough
	case "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// normalizeAddress returns addr with the default port appended if there is
// not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfg *config, options flags.Options) *flags.Parser {
	parser := flags.NewParser(cfg, options)
	parser.SubcommandsOptional = true
	return parser
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in zsawallet functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.  The name of the command to run, if any, is returned along
// with the config.
func loadConfig() (*config, string, error) {
	// Default config.
	cfg := config{
		DebugLevel: defaultLogLevel,
		ConfigFile: cfgutil.NewExplicitString(defaultConfigFile),
		AppDataDir: cfgutil.NewExplicitString(defaultAppDataDir),
		LogDir:     defaultLogDir,
		Network:    defaultNetwork,
		Birthday:   -1,
		SpendPlan: spendPlanCommand{
			Amount: cfgutil.NewAmountFlag(0),
		},
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := newConfigParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, "", err
	}

	// Show the version and exit if the version flag was specified.
	funcName := "loadConfig"
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := newConfigParser(&cfg, flags.Default)
	configFilePath := preCfg.ConfigFile.Value
	if preCfg.ConfigFile.ExplicitlySet() {
		configFilePath = cleanAndExpandPath(configFilePath)
	} else {
		appDataDir := preCfg.AppDataDir.Value
		if appDataDir != defaultAppDataDir {
			configFilePath = filepath.Join(appDataDir, defaultConfigFilename)
		}
	}
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, "", err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, "", err
	}

	// If an alternate data directory was specified, and paths with defaults
	// relative to the data dir are unchanged, modify each path to be
	// relative to the new data dir.
	if cfg.AppDataDir.ExplicitlySet() {
		cfg.AppDataDir.Value = cleanAndExpandPath(cfg.AppDataDir.Value)
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.AppDataDir.Value, defaultLogDirname)
		}
	}

	// Choose the active network params based on the selected network.
	params, err := netparams.ByName(cfg.Network)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, "", err
	}
	activeNet = params

	// Append the network type to the log directory so it is "namespaced"
	// per network.
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, activeNet.Name)

	// Initialize log rotation.  After log rotation has been initialized, the
	// logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, "", err
	}

	// Exactly one source of key material.
	sources := 0
	for _, set := range []bool{cfg.Mnemonic != "", cfg.Seed != "", cfg.WatchOnly} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		str := "%s: the mnemonic, seed and watchonly options can not be " +
			"used together"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, "", err
	}
	if cfg.Seed != "" {
		seed, err := hex.DecodeString(cfg.Seed)
		if err != nil || len(seed) < shielded.MinSeedBytes ||
			len(seed) > shielded.MaxSeedBytes {

			str := "%s: the seed must be a hexadecimal value of %d " +
				"to %d bytes"
			err := fmt.Errorf(str, funcName, shielded.MinSeedBytes,
				shielded.MaxSeedBytes)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, "", err
		}
	}

	if cfg.Birthday < 0 {
		cfg.Birthday = activeNet.NU5ActivationHeight
	}

	if cfg.RPCConnect == "" {
		cfg.RPCConnect = net.JoinHostPort(defaultRPCHost, activeNet.RPCPort)
	}
	cfg.RPCConnect = normalizeAddress(cfg.RPCConnect, activeNet.RPCPort)
	if cfg.RPCCert != "" {
		cfg.RPCCert = cleanAndExpandPath(cfg.RPCCert)
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	var command string
	if parser.Active != nil {
		command = parser.Active.Name
	}
	return &cfg, command, nil
}
