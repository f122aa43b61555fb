// modelworker is the model worker process: it binds a Unix domain socket,
// accepts a single front-end dispatcher connection at a time, and serves
// load/predict/unload commands against whatever handler a loaded model
// names.
//
// Usage:
//
//	modelworker [--config <file>] [--log-level info|debug] <socket-path>
//
// Flags must come before the socket path: parsing stops at the first
// non-flag argument.
//
// modelworker is normally started by a process supervisor that passes the
// socket path as its sole required argument; you do not usually run it by
// hand.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ianremillard/modelworker/internal/audit"
	"github.com/ianremillard/modelworker/internal/config"
	"github.com/ianremillard/modelworker/internal/logging"
	"github.com/ianremillard/modelworker/internal/worker"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("modelworker", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a worker config YAML file")
	logLevel := fs.String("log-level", "", "log level override: info or debug")
	auditDBPath := fs.String("audit-db", "", "path to the service audit log (sqlite); empty keeps the configured path")
	maxFailures := fs.Int("max-failures", 0, "send-failure threshold override before the worker exits")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `usage: modelworker [--config <file>] [--log-level info|debug] [--audit-db <path>] <socket-path>`)
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	remaining := fs.Args()
	if len(remaining) < 1 {
		fmt.Fprintln(os.Stderr, `Incomplete data provided: Model worker expects "socket name"`)
		return 1
	}
	socketPath := remaining[0]

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modelworker: %v\n", err)
		return 1
	}
	config.ApplyFlagOverrides(&cfg, socketPath, *logLevel, *auditDBPath, *maxFailures)

	log := logging.New("modelworker", logging.ParseLevel(cfg.LogLevel))

	w := worker.New(cfg, log)

	if cfg.AuditDBPath != "" {
		a, err := audit.Open(cfg.AuditDBPath)
		if err != nil {
			log.Errorf("opening audit log: %v", err)
		} else {
			defer a.Close()
			w = w.WithAuditLog(a)
		}
	}

	return w.Run()
}
