package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/storfleet/gatelink/internal/config"
	"github.com/storfleet/gatelink/internal/debughttp"
	"github.com/storfleet/gatelink/internal/hub"
	ilog "github.com/storfleet/gatelink/internal/log"
	"github.com/storfleet/gatelink/internal/scope"
	"github.com/storfleet/gatelink/internal/server"
	"github.com/storfleet/gatelink/internal/store/sqlite"
	"github.com/storfleet/gatelink/internal/token"
)

func runServer(ctx context.Context, args []string) int {
	loadDotEnv(".env")

	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel)

	opts := hub.Options{
		Log:               logger,
		Guard:             scope.Guard{},
		HTTPClient:        &http.Client{Timeout: cfg.ProxyTimeout()},
		ProxyBaseURL:      cfg.ProxyBaseURL,
		PingInterval:      cfg.PingInterval(),
		InactivityTimeout: cfg.InactivityTimeout(),
	}

	mgr := token.NewManager(cfg.JWTSecret)
	opts.Verifier = mgr
	opts.Issuer = mgr

	var store *sqlite.Store
	if strings.TrimSpace(cfg.DBPath) != "" {
		store, err = sqlite.Open(cfg.DBPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "db error:", err)
			return 1
		}
		defer func() { _ = store.Close() }()
		opts.Journal = store
	}

	if err := debughttp.Start(ctx, cfg.DebugAddr, logger); err != nil {
		fmt.Fprintln(os.Stderr, "debug endpoint error:", err)
		return 1
	}

	h := hub.New(opts)
	s := server.New(cfg, h, store, mgr, logger)
	if err := s.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		return 1
	}
	return 0
}
