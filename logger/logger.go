// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard output
// and the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem. A single backend logger is created and all
// subsystem loggers created from it will write to the backend. When adding
// new subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// The backend may be used before the log rotator has been initialized, in
// which case output goes to standard output only.
var (
	// backendLog is the logging backend used to create all subsystem
	// loggers.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	bcdbLog = backendLog.Logger("BCDB")
	lmdbLog = backendLog.Logger("LMDB")
	bulkLog = backendLog.Logger("BULK")
	syncLog = backendLog.Logger("SYNC")
	wlltLog = backendLog.Logger("WLLT")
	peerLog = backendLog.Logger("PEER")
	borcLog = backendLog.Logger("BORC")
	dnldLog = backendLog.Logger("DNLD")
	forcLog = backendLog.Logger("FORC")
	feesLog = backendLog.Logger("FEES")
	wrkrLog = backendLog.Logger("WRKR")
	cnfgLog = backendLog.Logger("CNFG")
)

// SubsystemTags is an enum of all sub system tags.
var SubsystemTags = struct {
	BCDB,
	LMDB,
	BULK,
	SYNC,
	WLLT,
	PEER,
	BORC,
	DNLD,
	FORC,
	FEES,
	WRKR,
	CNFG string
}{
	BCDB: "BCDB",
	LMDB: "LMDB",
	BULK: "BULK",
	SYNC: "SYNC",
	WLLT: "WLLT",
	PEER: "PEER",
	BORC: "BORC",
	DNLD: "DNLD",
	FORC: "FORC",
	FEES: "FEES",
	WRKR: "WRKR",
	CNFG: "CNFG",
}

// subsystemLoggers maps each subsystem identifier to its associated
// logger.
var subsystemLoggers = map[string]btclog.Logger{
	SubsystemTags.BCDB: bcdbLog,
	SubsystemTags.LMDB: lmdbLog,
	SubsystemTags.BULK: bulkLog,
	SubsystemTags.SYNC: syncLog,
	SubsystemTags.WLLT: wlltLog,
	SubsystemTags.PEER: peerLog,
	SubsystemTags.BORC: borcLog,
	SubsystemTags.DNLD: dnldLog,
	SubsystemTags.FORC: forcLog,
	SubsystemTags.FEES: feesLog,
	SubsystemTags.WRKR: wrkrLog,
	SubsystemTags.CNFG: cnfgLog,
}

// InitLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. Until it is called, output
// goes to standard output only. Unlike a daemon, the data plane never
// terminates the process over a logging failure; the error is returned to
// the embedding application.
func InitLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %s", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %s", err)
	}

	logRotator = r
	return nil
}

// Close shuts down the log rotator, flushing any pending output.
func Close() {
	if logRotator != nil {
		logRotator.Close()
		logRotator = nil
	}
}

// Get returns a logger of a specific sub system.
func Get(tag string) (logger btclog.Logger, ok bool) {
	logger, ok = subsystemLoggers[tag]
	return
}

// SetLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored. Defaults to info if the log level is invalid.
func SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level.
func SetLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}

// SupportedSubsystems returns a sorted slice of the supported subsystems
// for logging purposes.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	sort.Strings(subsystems)
	return subsystems
}

// ParseAndSetDebugLevels attempts to parse the specified debug level and
// set the levels accordingly. An appropriate error is returned if anything
// is invalid.
func ParseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid",
				debugLevel)
		}

		SetLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while
	// detecting issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level contains an "+
				"invalid subsystem/level pair [%s]", logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := Get(subsysID); !exists {
			return fmt.Errorf("the specified subsystem [%s] is invalid -- "+
				"supported subsystems %s", subsysID,
				strings.Join(SupportedSubsystems(), ", "))
		}

		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid",
				logLevel)
		}

		SetLogLevel(subsysID, logLevel)
	}

	return nil
}

// validLogLevel returns whether or not logLevel is a valid debug log
// level.
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

// PickNoun returns the singular or plural form of a noun depending on the
// count n.
func PickNoun(n uint64, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
