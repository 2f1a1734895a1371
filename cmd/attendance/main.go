package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vireworkplace/attendance/internal/cli"
	"vireworkplace/attendance/internal/config"
	"vireworkplace/attendance/internal/workflow"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := cli.Env{Config: config.Load(), Out: os.Stdout, Clock: workflow.SystemClock{}}
	if err := cli.Execute(ctx, env, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, cli.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
