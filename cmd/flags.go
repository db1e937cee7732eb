// cmd/flags.go

package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"TierCtx/pkg/engine"
)

// sessionFlags are shared by every command that stands up an engine.
func sessionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "tier",
			Usage: "fast tier budget as name=bytes (repeatable, fastest first)",
		},
		&cli.StringFlag{
			Name:  "persistent",
			Usage: "URI of the persistent tier (dir path, redis://, sftp://)",
		},
		&cli.StringFlag{
			Name:  "persistent-size",
			Value: "64G",
			Usage: "byte budget of the persistent tier",
		},
		&cli.Uint64Flag{
			Name:  "capacity",
			Value: 1 << 20,
			Usage: "requested context capacity in tokens",
		},
		&cli.Uint64Flag{
			Name:  "bytes-per-token",
			Value: 2048,
			Usage: "KV state bytes per token (from model size and precision)",
		},
		&cli.IntFlag{
			Name:  "chunk-size",
			Value: 4096,
			Usage: "tokens per persisted chunk",
		},
		&cli.IntFlag{
			Name:  "cache-chunks",
			Value: 16,
			Usage: "max chunks kept in memory",
		},
		&cli.IntFlag{
			Name:  "prefetch",
			Value: 2,
			Usage: "prefetch N chunks ahead of sequential reads",
		},
		&cli.IntFlag{
			Name:  "max-parallel",
			Value: 4,
			Usage: "max concurrent chunk operations",
		},
		&cli.StringFlag{
			Name:  "compress",
			Value: "zstd",
			Usage: "compression algorithm (lz4, zstd, none)",
		},
		&cli.IntFlag{
			Name:  "compress-level",
			Value: 3,
			Usage: "compression level, 0 fastest to 9 smallest",
		},
		&cli.StringFlag{
			Name:  "encrypt-rsa-key",
			Usage: "path of RSA private key (PEM) to encrypt chunks",
		},
		&cli.Int64Flag{
			Name:  "upload-limit",
			Usage: "bandwidth limit for persist in Mbps",
		},
		&cli.Int64Flag{
			Name:  "download-limit",
			Usage: "bandwidth limit for load in Mbps",
		},
	}
}

func sessionConf(c *cli.Context) (engine.Config, error) {
	tiers, err := parseTiers(c.StringSlice("tier"))
	if err != nil {
		return engine.Config{}, err
	}
	persistentBytes, err := parseBytes(c.String("persistent-size"))
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Tiers:                 tiers,
		PersistentPath:        c.String("persistent"),
		PersistentBytes:       persistentBytes,
		BytesPerToken:         c.Uint64("bytes-per-token"),
		TotalCapacityTokens:   c.Uint64("capacity"),
		ChunkSizeTokens:       c.Int("chunk-size"),
		MaxCachedChunks:       c.Int("cache-chunks"),
		PrefetchWindowChunks:  c.Int("prefetch"),
		MaxParallelOperations: c.Int("max-parallel"),
		Compression:           c.String("compress"),
		CompressionLevel:      c.Int("compress-level"),
		EncryptKeyPath:        c.String("encrypt-rsa-key"),
		EncryptPassphrase:     os.Getenv("TIERCTX_RSA_PASSPHRASE"),
		UploadLimit:           c.Int64("upload-limit") * 1e6 / 8,
		DownloadLimit:         c.Int64("download-limit") * 1e6 / 8,
	}, nil
}
