// cmd/status.go

package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/urfave/cli/v2"
)

func printJson(v interface{}) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Fatalf("json: %s", err)
	}
	fmt.Println(string(output))
}

func status(c *cli.Context) error {
	setLoggerLevel(c)
	url := fmt.Sprintf("http://%s/api/status", c.String("listen"))
	resp, err := http.Get(url)
	if err != nil {
		logger.Fatalf("get %s: %s", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Fatalf("get %s: %s", url, resp.Status)
	}
	var st interface{}
	if err = json.NewDecoder(resp.Body).Decode(&st); err != nil {
		logger.Fatalf("parse status: %s", err)
	}
	printJson(st)
	return nil
}

func statusFlags() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "show status of a running session",
		ArgsUsage: " ",
		Action:    status,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Value: "127.0.0.1:9080",
				Usage: "address of the serving session",
			},
		},
	}
}
