// Package cli implements the stallwatch command-line interface.
//
// # Overview
//
// stallwatch runs and queries the stallwatch diagnostic daemon: an HTTP
// endpoint embedded in (or running next to) a long-running Go server that
// captures every goroutine even when the server's scheduler is wedged.
//
// # Commands
//
// serve - Run the daemon in the foreground:
//
//	stallwatch serve [--config FILE] [--port 7132] [--heartbeat 1s] [--wedge]
//
// capture - Capture every goroutine of a running daemon:
//
//	stallwatch capture [--url http://127.0.0.1:7132] [--format text|json|yaml|table]
//
// stack - Fetch the stack of the daemon's handler goroutine:
//
//	stallwatch stack
//
// info - Show the daemon's executable and build information:
//
//	stallwatch info --format json
//
// coredump - Abort the daemon with a coredump (endpoint must be enabled):
//
//	stallwatch coredump --yes
//
// exit-codes - List the exit statuses used by the daemon:
//
//	stallwatch exit-codes
//
// # Global Flags
//
//	--log-level    Logging level: debug, info, warn, error (default: info)
//	--help, -h     Show command help
//	--version, -v  Show version information
//
// # Client Flags
//
//	--url, -u      Daemon base URL (default: http://127.0.0.1:7132, env STALLWATCH_URL)
//	--output, -o   Output file path (default: stdout)
//	--format, -t   Output format: json, yaml, table, text
//	--timeout      Total request timeout (default: 30s)
//
// # Environment Variables
//
//	LOG_LEVEL          Set logging verbosity (debug, info, warn, error)
//	STALLWATCH_URL     Daemon URL for client commands
//	STALLWATCH_CONFIG  Daemon configuration file
//
// # Exit Codes
//
//	0  Success
//	1  General error (invalid arguments, daemon unreachable, capture failed)
//
// The daemon's own exit statuses are listed by 'stallwatch exit-codes'.
//
// Version information is embedded at build time using ldflags:
//
//	go build -ldflags="-X 'github.com/NVIDIA/stallwatch/pkg/cli.version=1.0.0'"
package cli
