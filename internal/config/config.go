// Package config loads server and client runtime configuration from CLI
// flags and environment variables, following the same flag-plus-env
// precedence the rest of this codebase uses.
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// MaxFail is the shared failure/retry budget used by both the server
// session's NOP loop and the client session's reconnect loop.
const MaxFail = 5

// DefaultPort is the RFW/RFD listening port when none is given.
const DefaultPort = 8888

// StoreType selects the sample store backend.
type StoreType string

const (
	StoreSQLite   StoreType = "sqlite"
	StorePostgres StoreType = "postgres"
)

// ServerConfig holds everything the server entrypoint needs.
type ServerConfig struct {
	Host          string
	Port          int
	Local         bool // console logging, localhost bind
	SkipDB        bool // skip the CSV bootstrap download
	StoreType     StoreType
	StoreDSN      string
	MetricsPort    int // 0 disables the /metrics endpoint
	MaxFail        int
	AcceptRateRPS  float64 // accept-loop throttle, 0 disables
	BatchCacheSize int     // LRU entries for recently served batches, 0 disables
}

// ClientConfig holds everything the client entrypoint needs.
type ClientConfig struct {
	HostIP      string
	Local       bool
	Port        int
	Retries     int
	MetricsPort int
	BatchesDir  string
}

// LoadServerFlags parses flags for cmd/rfwserver into a ServerConfig.
func LoadServerFlags(args []string) (*ServerConfig, error) {
	loadDotEnv()

	fs := flag.NewFlagSet("rfwserver", flag.ContinueOnError)
	local := fs.Bool("local", false, "bind 127.0.0.1 and use console logging")
	skipdb := fs.Bool("skipdb", false, "skip the sample-store CSV bootstrap")
	port := fs.Int("port", getEnvInt("RFW_PORT", DefaultPort), "listen port")
	storeType := fs.String("store", getEnv("RFW_STORE", string(StoreSQLite)), "sample store backend: sqlite|postgres")
	storeDSN := fs.String("store-dsn", getEnv("RFW_STORE_DSN", "workload.db"), "sample store connection string")
	metricsPort := fs.Int("metrics-port", getEnvInt("RFW_METRICS_PORT", 0), "Prometheus /metrics port, 0 disables")
	acceptRPS := fs.Float64("accept-rps", 0, "accept-loop rate limit in connections/sec, 0 disables")
	cacheSize := fs.Int("batch-cache-size", getEnvInt("RFW_BATCH_CACHE_SIZE", 1024), "recently served batches to keep in memory, 0 disables")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	host := "0.0.0.0"
	if *local {
		host = "127.0.0.1"
	}

	return &ServerConfig{
		Host:           host,
		Port:           *port,
		Local:          *local,
		SkipDB:         *skipdb,
		StoreType:      StoreType(*storeType),
		StoreDSN:       *storeDSN,
		MetricsPort:    *metricsPort,
		MaxFail:        MaxFail,
		AcceptRateRPS:  *acceptRPS,
		BatchCacheSize: *cacheSize,
	}, nil
}

// LoadClientFlags parses flags shared by both client subcommands.
func LoadClientFlags(args []string) (*ClientConfig, error) {
	loadDotEnv()

	fs := flag.NewFlagSet("rfwclient", flag.ContinueOnError)
	hostip := fs.String("hostip", getEnv("RFW_HOST", "127.0.0.1"), "server address")
	local := fs.Bool("local", false, "use console logging")
	port := fs.Int("port", getEnvInt("RFW_PORT", DefaultPort), "server port")
	retries := fs.Int("retries", MaxFail, "per-RFW retry budget")
	metricsPort := fs.Int("metrics-port", getEnvInt("RFW_METRICS_PORT", 0), "Prometheus /metrics port, 0 disables")
	batchesDir := fs.String("batches-dir", getEnv("RFW_BATCHES_DIR", "batches"), "directory for received batch CSVs")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return &ClientConfig{
		HostIP:      *hostip,
		Local:       *local,
		Port:        *port,
		Retries:     *retries,
		MetricsPort: *metricsPort,
		BatchesDir:  *batchesDir,
	}, nil
}

// Addr renders host:port for dialing or listening.
func (c *ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Addr renders host:port for dialing the server.
func (c *ClientConfig) Addr() string { return fmt.Sprintf("%s:%d", c.HostIP, c.Port) }

func loadDotEnv() {
	if err := godotenv.Load(); err == nil {
		log.Printf("config: loaded .env file")
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
