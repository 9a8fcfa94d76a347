package rita

import (
	"github.com/althea-mesh/rita/babel"
	"github.com/althea-mesh/rita/build"
	"github.com/althea-mesh/rita/debt"
	"github.com/althea-mesh/rita/exitswitcher"
	"github.com/althea-mesh/rita/operatorfee"
	"github.com/althea-mesh/rita/oracle"
	"github.com/althea-mesh/rita/payment"
	"github.com/althea-mesh/rita/riteloop"
	"github.com/althea-mesh/rita/traffic"
	"github.com/decred/slog"
)

// replaceableLogger is a thin wrapper around a logger that is used so the
// logger can be replaced easily without some black pointer magic.
type replaceableLogger struct {
	slog.Logger
	subsystem string
}

// Loggers created before the log rotator has been initialized with a log
// file write to stdout only. The log file is attached early during
// application startup by calling InitLogRotator() on the root
// RotatingLogWriter (see daemon.InitLogging).
var (
	// ritaPkgLoggers is a list of all root package level loggers that are
	// registered. They are tracked here so they can be replaced once the
	// SetupLoggers function is called with the final root logger.
	ritaPkgLoggers []*replaceableLogger

	// addRitaPkgLogger is a helper function that creates a new replaceable
	// root package level logger and adds it to the list of loggers that
	// are replaced again later, once the final root logger is ready.
	addRitaPkgLogger = func(subsystem string) *replaceableLogger {
		l := &replaceableLogger{
			Logger:    build.NewSubLogger(subsystem, nil),
			subsystem: subsystem,
		}
		ritaPkgLoggers = append(ritaPkgLoggers, l)
		return l
	}

	// ritaLog is the logger for this package's own tick-loop wiring code.
	ritaLog = addRitaPkgLogger("RITA")
)

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.RotatingLogWriter) {
	// Now that we have the proper root logger, we can replace the
	// placeholder root package loggers.
	for _, l := range ritaPkgLoggers {
		l.Logger = build.NewSubLogger(l.subsystem, root.GenSubLogger)
		SetSubLogger(root, l.subsystem, l.Logger)
	}

	AddSubLogger(root, "ORCL", oracle.UseLogger)
	AddSubLogger(root, "DEBT", debt.UseLogger)
	AddSubLogger(root, "PAYM", payment.UseLogger)
	AddSubLogger(root, "TRAF", traffic.UseLogger)
	AddSubLogger(root, "OPFE", operatorfee.UseLogger)
	AddSubLogger(root, "EXSW", exitswitcher.UseLogger)
	AddSubLogger(root, "BABL", babel.UseLogger)
	AddSubLogger(root, "RTLP", riteloop.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.RotatingLogWriter, subsystem string,
	useLoggers ...func(slog.Logger)) {

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := build.NewSubLogger(subsystem, root.GenSubLogger)
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger is a helper method to conveniently register the logger of a
// sub system.
func SetSubLogger(root *build.RotatingLogWriter, subsystem string,
	logger slog.Logger, useLoggers ...func(slog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// logClosure is used to provide a closure over expensive logging operations
// so they don't have to be performed when the logging level doesn't warrant
// it.
type logClosure func() string

// String invokes the underlying function and returns the result.
func (c logClosure) String() string {
	return c()
}

// newLogClosure returns a new closure over a function that returns a string
// which itself provides a Stringer interface so that it can be used with the
// logging system.
func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}
