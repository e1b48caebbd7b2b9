// Package cli implements the ltm command line: the long-running service and
// one-shot store and search commands against the same backends.
package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "ltm",
		Usage: "Long-term semantic memory service",
		Commands: []*cli.Command{
			serveCommand(),
			storeCommand(),
			searchCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// prepare applies the config file, validates the result and builds the logger.
func prepare(cfg *config, c *cli.Command) (*fileConfig, error) {
	fc, err := cfg.loadFile(c)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return fc, nil
}
