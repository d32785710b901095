package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/goforj/godump"
	"github.com/urfave/cli/v3"

	"github.com/funcrun/funcrun/pkg/controlplane"
	"github.com/funcrun/funcrun/pkg/utils"
)

var dataFlag = &cli.StringFlag{
	Name:    "data",
	Usage:   "event payload passed to the function",
	Value:   "{}",
	Aliases: []string{"d"},
}

var timeoutFlag = &cli.DurationFlag{
	Name:    "timeout",
	Usage:   "example: 30s, 1m, 1h",
	Aliases: []string{"t"},
	Value:   30 * time.Second,
}

func main() {
	cmd := &cli.Command{
		Name:  "funcrun-cli",
		Usage: "talk to a local funcrun control endpoint",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run a standalone control endpoint",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "address",
						Value: "127.0.0.1:9001",
						Usage: "listen address of the control endpoint",
					},
					&cli.StringFlag{
						Name:  "log-level",
						Value: "info",
						Usage: "log level (debug, info, warn, error)",
					},
					&cli.StringFlag{
						Name:  "log-format",
						Value: "dev",
						Usage: "log format (text, json, dev)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					logger := utils.SetupLogger(cmd.String("log-level"), cmd.String("log-format"), "")
					server := controlplane.NewServer(logger)
					return server.Run(ctx, cmd.String("address"))
				},
			},
			{
				Name:      "invoke",
				Usage:     "invoke a function through the control endpoint",
				ArgsUsage: "function name",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "endpoint",
						Value: "http://127.0.0.1:9001",
						Usage: "base URL of the control endpoint",
					},
					dataFlag,
					timeoutFlag,
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name := cmd.Args().Get(0)
					if name == "" {
						return fmt.Errorf("function name is required")
					}

					callCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
					defer cancel()

					body, errored, err := invokeFunction(callCtx, cmd.String("endpoint"), name, []byte(cmd.String("data")))
					if err != nil {
						return err
					}

					var result any
					if jsonErr := json.Unmarshal(body, &result); jsonErr != nil {
						result = string(body)
					}
					godump.Dump(result)
					if errored {
						return fmt.Errorf("function %s returned an error", name)
					}
					return nil
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

// invokeFunction posts an event to the control endpoint's invoke surface. The
// request is retried briefly so invoking right after starting the endpoint
// does not race its listener coming up.
func invokeFunction(ctx context.Context, endpoint, name string, data []byte) (body []byte, errored bool, err error) {
	url := fmt.Sprintf("%s/%s/functions/%s/invocations", endpoint, controlplane.InvokeAPIVersion, name)
	client := &http.Client{}

	resp, err := utils.CallWithRetry(ctx, func() (*http.Response, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		return client.Do(req)
	}, 5, 200*time.Millisecond)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("invoke failed with status code %d: %s", resp.StatusCode, body)
	}
	return body, resp.Header.Get(controlplane.HeaderFunctionError) != "", nil
}
