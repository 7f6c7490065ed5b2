package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/storfleet/gatelink/internal/config"
	"github.com/storfleet/gatelink/internal/gatewayclient"
	ilog "github.com/storfleet/gatelink/internal/log"
)

func runGateway(ctx context.Context, args []string) int {
	loadDotEnv(".env")

	cfg, err := config.ParseGatewayFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gateway config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel)

	c := gatewayclient.New(cfg, logger, nil)
	if err := c.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "gateway error:", err)
		return 1
	}
	return 0
}
