package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/mediacore/cmd"
	"github.com/tphakala/mediacore/internal/app"
	"github.com/tphakala/mediacore/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = "dev"
	buildDate string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rt := app.New(buildinfo.NewContext(version, buildDate, ""))
	err := cmd.RootCommand(rt).ExecuteContext(ctx)
	stop()
	if err != nil {
		_ = rt.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
