// cmd/main.go

package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"TierCtx/pkg/plan"
	"TierCtx/pkg/utils"
	"TierCtx/pkg/version"
)

var logger = utils.GetLogger("tierctx")

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name: "version", Aliases: []string{"V"},
		Usage: "print only the version",
	}
	app := &cli.App{
		Name:    "tierctx",
		Usage:   "a tiered token store for long context sessions",
		Version: version.Version(),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"debug", "v"},
				Usage:   "enable debug log",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "only warning and errors",
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "enable trace log",
			},
		},
		Commands: []*cli.Command{
			formatFlags(),
			serveFlags(),
			benchFlags(),
			warmupFlags(),
			statusFlags(),
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func setLoggerLevel(c *cli.Context) {
	if c.Bool("trace") {
		utils.SetLogLevel(logrus.TraceLevel)
	} else if c.Bool("verbose") {
		utils.SetLogLevel(logrus.DebugLevel)
	} else if c.Bool("quiet") {
		utils.SetLogLevel(logrus.WarnLevel)
	}
}

// parseBytes understands plain numbers and K/M/G/T suffixes (power of
// 1024), e.g. "48G".
func parseBytes(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	shift := 0
	switch s[len(s)-1] {
	case 'k', 'K':
		shift = 10
	case 'm', 'M':
		shift = 20
	case 'g', 'G':
		shift = 30
	case 't', 'T':
		shift = 40
	}
	if shift > 0 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %s", s, err)
	}
	return n << shift, nil
}

// parseTiers turns repeated --tier name=bytes flags into planner
// budgets, in the order given.
func parseTiers(specs []string) ([]plan.TierBudget, error) {
	var budgets []plan.TierBudget
	for _, s := range specs {
		p := strings.SplitN(s, "=", 2)
		if len(p) != 2 || p[0] == "" {
			return nil, fmt.Errorf("invalid tier %q, expect name=bytes", s)
		}
		bytes, err := parseBytes(p[1])
		if err != nil {
			return nil, fmt.Errorf("tier %s: %s", p[0], err)
		}
		budgets = append(budgets, plan.TierBudget{Name: p[0], AvailableBytes: bytes})
	}
	return budgets, nil
}
