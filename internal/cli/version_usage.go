package cli

import "fmt"

// Version is set at build time via -ldflags.
var Version = "dev"

func printUsage() {
	fmt.Println(`gatelink - command and telemetry transport for storage facility gateways

Usage:
  gatelink server                       Start the backend transport server
  gatelink gateway                      Run a facility gateway client
  gatelink token --user U --role R      Mint a signed credential
  gatelink version                      Print version
  gatelink help                         Show this help

Server flags:
  --listen ADDR         Listen address (default :8080)
  --jwt-secret SECRET   JWT signing secret (required)
  --db PATH             SQLite journal path (empty disables journaling)
  --ping-interval N     Seconds of silence before a PING probe (default 10)
  --timeout N           Seconds of silence before eviction (default 20)
  --proxy-base-url URL  Internal API base for the proxy bridge
  --tls-domain DOMAIN   Automatic TLS for a public domain
  --debug-addr ADDR     pprof listener (empty disables)

Gateway flags:
  --server URL          Backend WebSocket URL (ws:// or wss://)
  --token JWT           Gateway credential
  --facility ID         Facility id to bind
  --probe-path PATH     Internal API path probed after connect

Environment Variables:
  GATELINK_LISTEN                Server listen address
  GATELINK_JWT_SECRET            JWT signing secret
  GATELINK_DB_PATH               SQLite journal path (default ./gatelink.db)
  GATELINK_PING_INTERVAL_SECONDS Heartbeat probe interval (default 10)
  GATELINK_TIMEOUT_SECONDS       Inactivity eviction threshold (default 20)
  GATELINK_MAX_MESSAGE_BYTES     Max inbound frame size (default 524288)
  GATELINK_JOURNAL_RETENTION_DAYS Days of journal events kept (default 30)
  GATELINK_PROXY_BASE_URL        Internal API base for the proxy bridge
  GATELINK_LOG_LEVEL             Log level: debug|info|warn|error (default info)
  GATELINK_SERVER_URL            Gateway: backend WebSocket URL
  GATELINK_TOKEN                 Gateway: credential
  GATELINK_FACILITY_ID           Gateway: facility id

Variables can also be provided via a local .env file.`)
}

func printVersion() {
	fmt.Println("gatelink", Version)
}
