package env

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/luma/beacon/transport"
)

type Config struct {
	Region    string `env:"BEACON_REGION"`
	DebugHTTP bool   `env:"BEACON_DEBUG_HTTP"`
	LogLevel  string `env:"BEACON_LOG_LEVEL,default=info"`

	// Zero disables the limit
	MaxFrameSize   int  `env:"BEACON_MAX_FRAME_SIZE,default=536870912"`
	ReadBufferSize int  `env:"BEACON_READ_BUFFER_SIZE,default=4096"`
	MaxDepth       int  `env:"BEACON_MAX_DEPTH,default=64"`
	Trace          bool `env:"BEACON_TRACE"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	return loadConfig(ctx, envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, err
	}

	return &config, nil
}

// ConnOptions is the per connection configuration. Callers fill in the
// logger and metrics.
func (c *Config) ConnOptions() transport.ConnOptions {
	return transport.ConnOptions{
		BufferSize:   c.ReadBufferSize,
		MaxFrameSize: c.MaxFrameSize,
		MaxDepth:     c.MaxDepth,
		Trace:        c.Trace,
	}
}
