package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ysmr3104/atomcam-meteor-detector/cmd"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/buildinfo"
)

// set with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	build := &buildinfo.Context{Version: version, BuildDate: buildDate}
	rootCmd := cmd.RootCommand(build)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
