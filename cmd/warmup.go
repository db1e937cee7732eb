// cmd/warmup.go

package main

import (
	"github.com/urfave/cli/v2"

	"TierCtx/pkg/engine"
	"TierCtx/pkg/utils"
)

func warmup(c *cli.Context) error {
	setLoggerLevel(c)
	conf, err := sessionConf(c)
	if err != nil {
		logger.Fatalf("%s", err)
	}
	if conf.PersistentPath == "" {
		logger.Fatalf("--persistent is required")
	}
	applyStamp(&conf)
	eng, err := engine.New(conf)
	if err != nil {
		logger.Fatalf("engine: %s", err)
	}

	pos := c.Uint64("pos")
	count := c.Int("count")
	if count == 0 {
		count = int(conf.TotalCapacityTokens - pos)
	}
	progress, bar := utils.NewDynProgressBar("Warming up: ", c.Bool("quiet"))
	bar.SetTotal(int64(eng.ChunkCount(pos, count)), false)
	err = eng.FillCache(c.Context, pos, count, c.Int("threads"), func() {
		bar.Increment()
	})
	bar.SetTotal(0, true)
	progress.Wait()
	if err != nil {
		logger.Fatalf("warmup: %s", err)
	}
	printJson(eng.Status())
	return nil
}

func warmupFlags() *cli.Command {
	flags := []cli.Flag{
		&cli.Uint64Flag{
			Name:  "pos",
			Usage: "first token position to warm up",
		},
		&cli.IntFlag{
			Name:  "count",
			Usage: "number of tokens to warm up (default: to capacity)",
		},
		&cli.IntFlag{
			Name:  "threads",
			Value: 10,
			Usage: "number of concurrent loaders",
		},
	}
	return &cli.Command{
		Name:      "warmup",
		Usage:     "load a token range into the chunk cache ahead of use",
		ArgsUsage: " ",
		Action:    warmup,
		Flags:     append(flags, sessionFlags()...),
	}
}
