package main

import (
	"context"
	"os/signal"
	"syscall"

	_ "github.com/fujin-io/evstore/public/checkpoint/all"
	_ "github.com/fujin-io/evstore/public/plugins/configurator/all"
	_ "github.com/fujin-io/evstore/public/plugins/decorator/all"
	_ "github.com/fujin-io/evstore/public/plugins/sink/all"
	"github.com/fujin-io/evstore/public/service"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	service.RunCLI(ctx)
}
