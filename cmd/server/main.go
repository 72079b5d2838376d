/*
main.go - Application entry point

PURPOSE:
  Runs the payment engine: the HTTP server, schema migrations, and a
  read-only status report for operators.

COMMANDS:
  serve              Start the HTTP server (migrates first)
  migrate            Apply the schema and exit
  status --job <id>  Print a job's payment status as JSON
  seed --scenario    Load demo jobs and work hours (development only)

CONFIGURATION:
  --config <file.toml>, then environment variables. See config/config.go
  for every key. The minimum to serve:

    PARTNER_BASE_URL=https://partner.example PARTNER_API_KEY=... ./server serve

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store and Redis client
  4. Exit

  Batches already accepted keep running to completion; the request
  context being cancelled does not abort them.

SEE ALSO:
  - api/server.go: Router configuration
  - payment/engine.go: Engine wiring
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
