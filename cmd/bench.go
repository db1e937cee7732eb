// cmd/bench.go

package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"TierCtx/pkg/engine"
	"TierCtx/pkg/utils"
)

func benchBlock(seed int64, n int) []int32 {
	r := rand.New(rand.NewSource(seed))
	out := make([]int32, n)
	for i := range out {
		out[i] = r.Int31()
	}
	return out
}

func bench(c *cli.Context) error {
	setLoggerLevel(c)
	conf, err := sessionConf(c)
	if err != nil {
		logger.Fatalf("%s", err)
	}
	if conf.PersistentPath == "" {
		tmp, err := os.MkdirTemp("", "tierctx-bench")
		if err != nil {
			logger.Fatalf("%s", err)
		}
		defer os.RemoveAll(tmp)
		conf.PersistentPath = tmp
	}
	eng, err := engine.New(conf)
	if err != nil {
		logger.Fatalf("engine: %s", err)
	}

	blockSize := c.Int("block-size")
	count := c.Int("count")
	if uint64(count*blockSize) > conf.TotalCapacityTokens {
		count = int(conf.TotalCapacityTokens / uint64(blockSize))
		logger.Warnf("count reduced to %d to stay within capacity", count)
	}
	seed := time.Now().UnixNano()
	ctx := c.Context

	progress, bar := utils.NewDynProgressBar("Write progress: ", c.Bool("quiet"))
	bar.SetTotal(int64(count), false)
	start := time.Now()
	for i := 0; i < count; i++ {
		tokens := benchBlock(seed+int64(i), blockSize)
		if err = eng.StoreTokens(ctx, tokens, uint64(i*blockSize)); err != nil {
			logger.Fatalf("store block %d: %s", i, err)
		}
		bar.Increment()
	}
	if err = eng.Flush(ctx); err != nil {
		logger.Fatalf("flush: %s", err)
	}
	writeUsed := time.Since(start)
	bar.SetTotal(0, true)
	progress.Wait()

	// read back out of order so the cache actually churns
	order := rand.New(rand.NewSource(seed)).Perm(count)
	progress, bar = utils.NewDynProgressBar("Read progress: ", c.Bool("quiet"))
	bar.SetTotal(int64(count), false)
	start = time.Now()
	for _, i := range order {
		tokens, err := eng.RetrieveTokens(ctx, uint64(i*blockSize), blockSize)
		if err != nil {
			logger.Fatalf("retrieve block %d: %s", i, err)
		}
		expect := benchBlock(seed+int64(i), blockSize)
		if len(tokens) != len(expect) {
			logger.Fatalf("block %d: got %d tokens, expect %d", i, len(tokens), len(expect))
		}
		for j := range expect {
			if tokens[j] != expect[j] {
				logger.Fatalf("block %d: token %d mismatch", i, j)
			}
		}
		bar.Increment()
	}
	readUsed := time.Since(start)
	bar.SetTotal(0, true)
	progress.Wait()

	total := float64(count * blockSize)
	fmt.Printf("Written %d tokens in %.2f s: %.0f tokens/s\n", count*blockSize, writeUsed.Seconds(), total/writeUsed.Seconds())
	fmt.Printf("Read %d tokens in %.2f s: %.0f tokens/s\n", count*blockSize, readUsed.Seconds(), total/readUsed.Seconds())
	printJson(eng.Status())
	return eng.Reset(ctx)
}

func benchFlags() *cli.Command {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:  "block-size",
			Value: 1024,
			Usage: "tokens per operation",
		},
		&cli.IntFlag{
			Name:  "count",
			Value: 256,
			Usage: "number of blocks to write and read back",
		},
	}
	return &cli.Command{
		Name:      "bench",
		Usage:     "run a write/read benchmark against a session",
		ArgsUsage: " ",
		Action:    bench,
		Flags:     append(flags, sessionFlags()...),
	}
}
