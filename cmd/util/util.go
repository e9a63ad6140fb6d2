package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/rpc/client"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/ValentinKolb/dLock/rpc/transport/http"
	"github.com/ValentinKolb/dLock/rpc/transport/socket"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitConfig loads .env files and binds the environment (DLOCK_<FLAG>) to viper
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("dlock")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// RPC client
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "endpoints"
	cmd.PersistentFlags().String(key, "localhost:8080", WrapString("The address of the dLock server. Multiple endpoints can be specified as a comma-separated list, requests are distributed round robin"))

	key = "conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per endpoint (ignored for http)"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to try to send a request"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		Endpoints:              strings.Split(viper.GetString("endpoints"), ","),
		TimeoutSecond:          viper.GetInt("timeout"),
		RetryCount:             viper.GetInt("retries"),
		ConnectionsPerEndpoint: viper.GetInt("conn-per-endpoint"),
		Transport:              viper.GetString("transport"),
		Serializer:             viper.GetString("serializer"),
	}
}

// GetShardID retrieves the configured shard ID
func GetShardID() uint64 {
	return viper.GetUint64("shard")
}

// NewRPCStore connects to the store shard selected by the flags
func NewRPCStore() (store.IStore, error) {
	s, t, err := getSerializerAndTransport()
	if err != nil {
		return nil, err
	}
	return client.NewRPCStore(GetShardID(), *GetClientConfig(), t, s)
}

// NewRPCLockMgr connects to the lock manager shard selected by the flags
func NewRPCLockMgr() (lockmgr.ILockManager, error) {
	s, t, err := getSerializerAndTransport()
	if err != nil {
		return nil, err
	}
	return client.NewRPCLockMgr(GetShardID(), *GetClientConfig(), t, s)
}

func getSerializerAndTransport() (serializer.IRPCSerializer, transport.IRPCClientTransport, error) {
	s, err := GetSerializer()
	if err != nil {
		return nil, nil, err
	}
	t, err := GetClientTransport()
	if err != nil {
		return nil, nil, err
	}
	return s, t, nil
}

// --------------------------------------------------------------------------
// Serializer and transports
// --------------------------------------------------------------------------

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	switch viper.GetString("serializer") {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// GetClientTransport creates a client transport based on configuration
func GetClientTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpClientTransport(), nil
	case "tcp":
		return socket.NewTCPClientTransport(), nil
	case "unix":
		return socket.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates a server transport based on configuration
func GetServerTransport(bufferSize int) (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpServerTransport(), nil
	case "tcp":
		return socket.NewTCPServerTransport(bufferSize), nil
	case "unix":
		return socket.NewUnixServerTransport(bufferSize), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// --------------------------------------------------------------------------
// Lock manager and redis
// --------------------------------------------------------------------------

// SetupLockFlags adds the lock manager parameters to a flag set
func SetupLockFlags(flags *pflag.FlagSet) {
	key := "read-lock-ttl"
	flags.Duration(key, lockmgr.DefaultReadLockTTL, WrapString("How long a read lock lives if it is not released"))

	key = "write-lock-ttl"
	flags.Duration(key, lockmgr.DefaultWriteLockTTL, WrapString("How long a write lock lives if it is not released"))

	key = "base-delay"
	flags.Duration(key, lockmgr.DefaultBaseDelay, WrapString("Initial backoff delay between two attempts, doubled on every retry"))

	key = "delay-offset-min"
	flags.Duration(key, lockmgr.DefaultDelayOffsetMin, WrapString("Lower bound of the random offset added to every backoff delay"))

	key = "delay-offset-max"
	flags.Duration(key, lockmgr.DefaultDelayOffsetMax, WrapString("Upper bound of the random offset added to every backoff delay"))

	key = "max-retries"
	flags.Int(key, lockmgr.DefaultMaxRetries, WrapString("Number of attempts per lock acquisition"))
}

// GetLockConfig reads the lock manager parameters from viper
func GetLockConfig() lockmgr.Config {
	return lockmgr.Config{
		ReadLockTTL:    viper.GetDuration("read-lock-ttl"),
		WriteLockTTL:   viper.GetDuration("write-lock-ttl"),
		BaseDelay:      viper.GetDuration("base-delay"),
		DelayOffsetMin: viper.GetDuration("delay-offset-min"),
		DelayOffsetMax: viper.GetDuration("delay-offset-max"),
		MaxRetries:     viper.GetInt("max-retries"),
	}
}

// SetupRedisFlags adds the redis connection flags to a flag set
func SetupRedisFlags(flags *pflag.FlagSet) {
	key := "redis-addr"
	flags.String(key, "localhost:6379", WrapString("Address of the redis server"))

	key = "redis-password"
	flags.String(key, "", WrapString("Password of the redis server"))

	key = "redis-db"
	flags.Int(key, 0, WrapString("Redis database to use"))
}

// RedisTimeout is the timeout of a single redis round trip
func RedisTimeout() time.Duration {
	if t := viper.GetInt("timeout"); t > 0 {
		return time.Duration(t) * time.Second
	}
	return 5 * time.Second
}
