package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/omeid/uconfig"
)

// configFilename is the filename of the config file automatically loaded.
var configFilename = "config.json"

type config struct {
	Dir string `default:""` // Directory of the wallet database (defaults to ~/.walletsync)

	Wallets string `default:""` // Comma separated addresses watched at startup

	Chain struct {
		Endpoint          string `default:"http://localhost:8545"` // Node JSON-RPC endpoint
		ChainID           int64  `default:"1"`
		MaxCallsPerSecond uint64 `default:"100"`
	}
	HTTP struct {
		Port                      string `default:"8080"`
		RateLimInterval           string `default:"1s"`
		MaxRequestPerInterval     uint64 `default:"100"`
		SyncMaxRequestPerInterval uint64 `default:"5"`
	}
	Sync struct {
		Interval         string `default:"30s"`
		PendingTTL       string `default:"0s"` // Zero disables stale pending detection
		ReorgOverlap     uint64 `default:"10"`
		MinBlockDepth    uint64 `default:"0"`
		FetchConcurrency int    `default:"4"`
		FetchTimeout     string `default:"30s"`
	}
	NodeStatus struct {
		PollInterval string `default:"15s"`
	}
	Backup struct {
		Enabled           bool   `default:"false"`
		Dir               string `default:"backups"` // Relative to Dir
		Frequency         string `default:"24h"`
		EnableVacuum      bool   `default:"true"`
		EnableCompression bool   `default:"true"`
		Pruning           struct {
			Enabled   bool `default:"true"`
			KeepFiles int  `default:"5"`
		}
		RestoreFrom string `default:""` // URL or path of a backup restored when there's no database yet
	}
	Metrics struct {
		Port string `default:"9090"`
	}
	Log struct {
		Human bool   `default:"false"`
		Level string `default:"info"`
	}
}

func setupConfig() (*config, string) {
	conf := &config{}
	confFiles := uconfig.Files{
		{configFilename, json.Unmarshal},
	}

	c, err := uconfig.Classic(&conf, confFiles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %s\n", err)
		c.Usage()
		os.Exit(1)
	}

	dirPath := conf.Dir
	if dirPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "getting home directory: %s\n", err)
			os.Exit(1)
		}
		dirPath = path.Join(home, ".walletsync")
	}
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "creating directory %s: %s\n", dirPath, err)
		os.Exit(1)
	}

	return conf, dirPath
}

func (c *config) wallets() []string {
	var addrs []string
	for _, a := range strings.Split(c.Wallets, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

type durations struct {
	rateLimInterval time.Duration
	syncInterval    time.Duration
	pendingTTL      time.Duration
	fetchTimeout    time.Duration
	pollInterval    time.Duration
	backupFrequency time.Duration
}

func (c *config) durations() (durations, error) {
	var d durations
	for _, p := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"HTTP.RateLimInterval", c.HTTP.RateLimInterval, &d.rateLimInterval},
		{"Sync.Interval", c.Sync.Interval, &d.syncInterval},
		{"Sync.PendingTTL", c.Sync.PendingTTL, &d.pendingTTL},
		{"Sync.FetchTimeout", c.Sync.FetchTimeout, &d.fetchTimeout},
		{"NodeStatus.PollInterval", c.NodeStatus.PollInterval, &d.pollInterval},
		{"Backup.Frequency", c.Backup.Frequency, &d.backupFrequency},
	} {
		v, err := time.ParseDuration(p.value)
		if err != nil {
			return durations{}, fmt.Errorf("%s has invalid format %q: %s", p.name, p.value, err)
		}
		*p.dst = v
	}
	return d, nil
}
