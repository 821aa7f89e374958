// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/wescan/wescan/internal/candidates"
	"github.com/wescan/wescan/internal/corectl"
	"github.com/wescan/wescan/internal/prober"
	"github.com/wescan/wescan/internal/version"
	"github.com/wescan/wescan/sampleconfig"
)

const (
	defaultConfigFilename = "wescan.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "wescan.log"
	defaultDebugLevel     = "info"
	defaultCoreBin        = "xray"
	defaultWorkers        = 20
	defaultBasePort       = uint16(10800)
	defaultIPv4Count      = 60
	defaultIPv6Count      = 60
	defaultTries          = 3
	defaultRequestTimeout = 2 * time.Second
	defaultProbeBudget    = 30 * time.Second
	defaultLatencyPolicy  = "mean"
	defaultInbound        = corectl.InboundHTTP
	defaultOutputFilename = "README.md"
	defaultFormat         = "markdown"
	defaultTopN           = 10
)

var (
	defaultHomeDir    = appDataDir("wescan")
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for wescan.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion    bool          `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile     string        `short:"C" long:"configfile" description:"Path to configuration file"`
	HomeDir        string        `short:"A" long:"appdata" description:"Path to application home directory"`
	LogDir         string        `long:"logdir" description:"Directory to log output"`
	NoFileLogging  bool          `long:"nofilelogging" description:"Disable file logging"`
	DebugLevel     string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	CoreBin        string        `long:"corebin" description:"Path to the proxy core executable"`
	WorkDir        string        `long:"workdir" description:"Directory for per-probe core work directories"`
	KeepWorkDirs   bool          `long:"keepworkdirs" description:"Do not remove per-probe work directories on teardown"`
	Workers        int           `long:"workers" description:"Maximum number of candidates probed concurrently"`
	BasePort       uint16        `long:"baseport" description:"First local port assigned to core inbound listeners"`
	Inbound        string        `long:"inbound" description:"Local proxy protocol the core exposes" choice:"http" choice:"socks"`
	ReadyTimeout   time.Duration `long:"readytimeout" description:"Maximum time to wait for a core inbound listener to become ready"`
	StopTimeout    time.Duration `long:"stoptimeout" description:"Maximum time to wait for a core process to exit gracefully before killing it"`
	ProbeBudget    time.Duration `long:"probebudget" description:"Wall-clock budget covering one candidate's full launch, probe, and teardown cycle"`
	TestURL        string        `long:"testurl" description:"Diagnostic URL requested through each candidate"`
	Tries          int           `long:"tries" description:"Number of diagnostic requests issued per candidate"`
	RequestTimeout time.Duration `long:"requesttimeout" description:"Timeout for each individual diagnostic request"`
	LatencyPolicy  string        `long:"latency" description:"Latency aggregation policy" choice:"mean" choice:"min" choice:"median"`
	IPv4Count      int           `long:"numipv4" description:"Number of IPv4 candidates to sample"`
	IPv6Count      int           `long:"numipv6" description:"Number of IPv6 candidates to sample"`
	Ranges         []string      `long:"range" description:"Additional CIDR range to sample candidates from; may be specified multiple times"`
	Seeds          []string      `long:"seed" description:"Fixed host:port endpoint that is always probed; may be specified multiple times"`
	MaxCandidates  int           `long:"maxcandidates" description:"Cap on the total number of candidates probed in one run (0 means no cap)"`
	APIURL         string        `long:"apiurl" description:"WARP registration API endpoint"`
	PrivateKey     string        `long:"privatekey" description:"Base64 WireGuard private key of an existing WARP account (skips registration; requires peerpublickey, clientipv6, and clientid)"`
	PeerPublicKey  string        `long:"peerpublickey" description:"Base64 WireGuard public key of the WARP peer"`
	ClientIPv6     string        `long:"clientipv6" description:"IPv6 interface address assigned to the WARP account"`
	ClientID       string        `long:"clientid" description:"Base64 client ID assigned to the WARP account"`
	Output         string        `short:"o" long:"output" description:"Path the report is written to"`
	Format         string        `long:"format" description:"Report format" choice:"markdown" choice:"text"`
	TopN           int           `long:"topn" description:"Maximum number of endpoints per address family in the report"`
	Profile        string        `long:"profile" description:"Enable HTTP profiling on given [addr:]port -- NOTE port must be between 1024 and 65535"`
	CPUProfile     string        `long:"cpuprofile" description:"Write CPU profile to the specified file"`
	MemProfile     string        `long:"memprofile" description:"Write mem profile to the specified file"`

	// The rest of the fields hold values derived during load that the
	// remaining startup code consumes directly.
	seeds         []candidates.Candidate
	ipv4Ranges    []netip.Prefix
	ipv6Ranges    []netip.Prefix
	latencyPolicy prober.LatencyPolicy
}

// errSuppressUsage signifies that an error should not print the usage
// message along with it.
type errSuppressUsage string

// Error implements the error interface.
func (e errSuppressUsage) Error() string {
	return string(e)
}

// appDataDir returns an operating system specific directory to be used for
// storing application data for an application.
func appDataDir(appName string) string {
	if appName == "" || appName == "." {
		return "."
	}

	// The caller really shouldn't prepend the appName with a period, but
	// if they do, handle it gracefully by trimming it.
	appName = strings.TrimPrefix(appName, ".")
	appNameUpper := strings.ToUpper(appName[:1]) + appName[1:]

	// Get the OS specific home directory via the Go standard lib.
	var homeDir string
	usr, err := user.Current()
	if err == nil {
		homeDir = usr.HomeDir
	}

	// Fall back to standard HOME environment variable that works
	// for most POSIX OSes if the directory from the Go standard
	// lib failed.
	if err != nil || homeDir == "" {
		homeDir = os.Getenv("HOME")
	}

	switch runtime.GOOS {
	// Attempt to use the LOCALAPPDATA or APPDATA environment variable on
	// Windows.
	case "windows":
		// Windows XP and before didn't have a LOCALAPPDATA, so fallback
		// to regular APPDATA when LOCALAPPDATA is not set.
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		if appData != "" {
			return filepath.Join(appData, appNameUpper)
		}

	case "darwin":
		if homeDir != "" {
			return filepath.Join(homeDir, "Library",
				"Application Support", appNameUpper)
		}

	case "plan9":
		if homeDir != "" {
			return filepath.Join(homeDir, appName)
		}

	default:
		if homeDir != "" {
			return filepath.Join(homeDir, "."+appName)
		}
	}

	// Fall back to the current directory if all else fails.
	return "."
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Nothing to do when no path is given.
	if path == "" {
		return path
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but the variables can still be expanded via POSIX-style
	// $VARIABLE.
	path = os.ExpandEnv(path)

	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}

	// Expand initial ~ to the current user's home directory, or ~otheruser
	// to otheruser's home directory.  For path "~", and "~/", assume ~ is
	// the home directory.
	userName := ""
	if i := strings.IndexAny(path, "/\\"); i != -1 {
		userName = path[1:i]
		path = path[i:]
	} else {
		userName = path[1:]
		path = ""
	}

	homeDir := ""
	var u *user.User
	var err error
	if userName == "" {
		u, err = user.Current()
	} else {
		u, err = user.Lookup(userName)
	}
	if err == nil {
		homeDir = u.HomeDir
	}
	// Fallback to CWD if user lookup fails or user has no home directory.
	if homeDir == "" {
		homeDir = "."
	}

	return filepath.Join(homeDir, path)
}

// parseRanges parses and partitions the provided CIDR strings by address
// family.
func parseRanges(ranges []string) (v4, v6 []netip.Prefix, err error) {
	for _, s := range ranges {
		pfx, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid range %q: %w", s, err)
		}
		if pfx.Addr().Is4() {
			v4 = append(v4, pfx)
		} else {
			v6 = append(v6, pfx)
		}
	}
	return v4, v6, nil
}

// parseSeeds parses the provided host:port endpoint strings.
func parseSeeds(seeds []string) ([]candidates.Candidate, error) {
	parsed := make([]candidates.Candidate, 0, len(seeds))
	for _, s := range seeds {
		cand, err := candidates.ParseCandidate(s)
		if err != nil {
			return nil, fmt.Errorf("invalid seed %q: %w", s, err)
		}
		parsed = append(parsed, cand)
	}
	return parsed, nil
}

// createDefaultConfigFile copies the sample config to the provided path so a
// first run leaves a commented config file behind for the user to edit.
func createDefaultConfigFile(destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0700); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte(sampleconfig.Wescan()), 0600)
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
// The above results in wescan functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig(appName string) (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile:     defaultConfigFile,
		HomeDir:        defaultHomeDir,
		LogDir:         defaultLogDir,
		DebugLevel:     defaultDebugLevel,
		CoreBin:        defaultCoreBin,
		Workers:        defaultWorkers,
		BasePort:       defaultBasePort,
		Inbound:        defaultInbound,
		ReadyTimeout:   corectl.DefaultReadyTimeout,
		StopTimeout:    corectl.DefaultStopTimeout,
		ProbeBudget:    defaultProbeBudget,
		TestURL:        prober.DefaultTestURL,
		Tries:          defaultTries,
		RequestTimeout: defaultRequestTimeout,
		LatencyPolicy:  defaultLatencyPolicy,
		IPv4Count:      defaultIPv4Count,
		IPv6Count:      defaultIPv6Count,
		Output:         defaultOutputFilename,
		Format:         defaultFormat,
		TopN:           defaultTopN,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := flags.NewNamedParser(appName, flags.HelpFlag)
	preParser.AddGroup("Application Options", "", &preCfg)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			version.String(), runtime.Version(), runtime.GOOS,
			runtime.GOARCH)
		os.Exit(0)
	}

	// Update the home directory if specified.  Since the home directory is
	// updated, other variables need to be updated to reflect the new
	// location.
	configFileSpecified := preCfg.ConfigFile != defaultConfigFile
	if preCfg.HomeDir != defaultHomeDir {
		cfg.HomeDir = cleanAndExpandPath(preCfg.HomeDir)
		if preCfg.ConfigFile == defaultConfigFile {
			preCfg.ConfigFile = filepath.Join(cfg.HomeDir,
				defaultConfigFilename)
		}
		if preCfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.HomeDir, defaultLogDirname)
		}
	}
	configFile := cleanAndExpandPath(preCfg.ConfigFile)

	// Create a default config file when one does not exist at the default
	// path and no alternative was requested so the commented sample is
	// available for editing.
	if !configFileSpecified {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			if err := createDefaultConfigFile(configFile); err != nil {
				fmt.Fprintf(os.Stderr, "Error creating a default config "+
					"file: %v\n", err)
			}
		}
	}

	// Load additional config from file.
	parser := flags.NewNamedParser(appName, flags.Default)
	parser.AddGroup("Application Options", "", &cfg)
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
		// A missing non-default config file is an error the user needs to
		// know about.
		if configFileSpecified {
			str := fmt.Sprintf("config file %q does not exist", configFile)
			return nil, nil, errSuppressUsage(str)
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		return nil, nil, err
	}
	if len(remainingArgs) > 0 {
		str := fmt.Sprintf("unexpected argument %q", remainingArgs[0])
		return nil, nil, errors.New(str)
	}

	// Clean and expand all configured paths.
	cfg.HomeDir = cleanAndExpandPath(cfg.HomeDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.CoreBin = cleanAndExpandPath(cfg.CoreBin)
	cfg.Output = cleanAndExpandPath(cfg.Output)
	if cfg.WorkDir != "" {
		cfg.WorkDir = cleanAndExpandPath(cfg.WorkDir)
	}

	// Initialize log rotation.  After the log rotation has been initialized,
	// the logger variables may be used.
	if !cfg.NoFileLogging {
		initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		str := fmt.Sprintf("%s: %v", appName, err)
		return nil, nil, errSuppressUsage(str)
	}

	// Validate the scan shape.
	if cfg.Workers <= 0 {
		return nil, nil, errors.New("workers must be positive")
	}
	if cfg.Tries <= 0 {
		return nil, nil, errors.New("tries must be positive")
	}
	if cfg.TopN <= 0 {
		return nil, nil, errors.New("topn must be positive")
	}
	if int(cfg.BasePort)+cfg.Workers > 65535 {
		str := fmt.Sprintf("baseport %d leaves no room for %d workers",
			cfg.BasePort, cfg.Workers)
		return nil, nil, errors.New(str)
	}
	if cfg.IPv4Count < 0 || cfg.IPv6Count < 0 {
		return nil, nil, errors.New("candidate counts must not be negative")
	}
	if _, err := url.Parse(cfg.TestURL); err != nil {
		str := fmt.Sprintf("invalid testurl: %v", err)
		return nil, nil, errors.New(str)
	}

	// Existing account credentials are all or nothing.
	haveCreds := cfg.PrivateKey != "" || cfg.PeerPublicKey != "" ||
		cfg.ClientIPv6 != "" || cfg.ClientID != ""
	haveAllCreds := cfg.PrivateKey != "" && cfg.PeerPublicKey != "" &&
		cfg.ClientIPv6 != "" && cfg.ClientID != ""
	if haveCreds && !haveAllCreds {
		return nil, nil, errors.New("privatekey, peerpublickey, " +
			"clientipv6, and clientid must all be specified together")
	}

	// Parse the extra ranges and fixed seeds.
	extraV4, extraV6, err := parseRanges(cfg.Ranges)
	if err != nil {
		return nil, nil, err
	}
	cfg.ipv4Ranges = append(candidates.DefaultIPv4Ranges(), extraV4...)
	cfg.ipv6Ranges = append(candidates.DefaultIPv6Ranges(), extraV6...)
	cfg.seeds, err = parseSeeds(cfg.Seeds)
	if err != nil {
		return nil, nil, err
	}

	cfg.latencyPolicy, err = prober.ParseLatencyPolicy(cfg.LatencyPolicy)
	if err != nil {
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}
