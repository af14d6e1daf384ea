// Command stsrt 运行响应缓存与实时推送服务
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/tokmz/stsrt/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "config file path (default: ./config.yaml or ./configs/config.yaml)")
	printConfig := flag.Bool("print-config", false, "print effective config and exit")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *printConfig); err != nil {
		fmt.Fprintf(os.Stderr, "stsrt: %v\n", err)
		os.Exit(1)
	}
}
