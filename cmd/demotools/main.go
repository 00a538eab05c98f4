// Demotools is a small tool process for trying out scout without real
// data providers. It speaks the tool protocol on stdin/stdout and serves
// canned recruiting data.
//
// Usage:
//
//	demotools            Serve tools on stdio
//	demotools -list      Print the tool catalog and exit
//	demotools -version   Print version and exit
//
// Logs go to stderr; stdout carries protocol messages only.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nugget/talentscout/internal/buildinfo"
	"github.com/nugget/talentscout/internal/config"
	"github.com/nugget/talentscout/internal/mcp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run serves the demo tools on stdin/stdout until stdin closes or ctx is
// cancelled.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	list := false
	for _, a := range args {
		switch a {
		case "-version", "--version":
			fmt.Fprintln(stdout, buildinfo.String())
			return nil
		case "-list", "--list":
			list = true
		default:
			return fmt.Errorf("unknown flag: %s", a)
		}
	}

	level, err := config.ParseLogLevel(os.Getenv("DEMOTOOLS_LOG_LEVEL"))
	if err != nil {
		return err
	}
	logger := config.NewLogger(stderr, level, "text").With("component", "demotools")

	srv := newServer(newCatalog(), logger)
	if list {
		return printCatalog(stdout, srv)
	}

	logger.Info("serving demo tools", "version", buildinfo.Version)
	return srv.Serve(ctx, stdin, stdout)
}

// newServer registers every demo tool on a fresh server.
func newServer(c *catalog, logger *slog.Logger) *mcp.Server {
	srv := mcp.NewServer("demotools", buildinfo.Version, logger)
	for _, t := range c.tools() {
		srv.AddTool(t)
	}
	return srv
}

func printCatalog(w io.Writer, srv *mcp.Server) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(srv.Tools())
}
