package config

import (
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

// Block storage levels accepted on the command line. Higher levels store
// strictly more data.
const (
	// StorageLevelNone stores no block payloads.
	StorageLevelNone = 0

	// StorageLevelCache stores recently used block payloads.
	StorageLevelCache = 1

	// StorageLevelAll stores every downloaded block payload.
	StorageLevelAll = 2
)

// defaultDataDirname is the directory created under the user home
// directory when no data directory is configured.
const defaultDataDirname = ".otxd"

// Options holds the process configuration relevant to the blockchain data
// plane.
type Options struct {
	DataDir           string   `short:"b" long:"datadir" description:"Directory to store data"`
	BlockStorageLevel int      `long:"blockstorage" description:"Block storage level: 0=none, 1=cache, 2=all" default:"1"`
	DebugLevel        string   `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems" default:"info"`
	SyncServers       []string `long:"syncserver" description:"Sync server endpoint to use (may be specified multiple times)"`
}

// DefaultOptions returns the options a process starts with before flag
// parsing.
func DefaultOptions() *Options {
	return &Options{
		DataDir:           defaultDataDir(),
		BlockStorageLevel: StorageLevelCache,
		DebugLevel:        "info",
	}
}

// Load parses the command line into a fresh Options value.
func Load(args []string) (*Options, error) {
	opts := DefaultOptions()
	parser := flags.NewParser(opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	return opts, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultDataDirname
	}
	return filepath.Join(home, defaultDataDirname)
}
