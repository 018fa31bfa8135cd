package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/lance13c/vrt/cmd"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cmd.SetVersion(version)
	code := cmd.Execute(ctx)
	stop()
	os.Exit(code)
}
