package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/t-bank-sirius/LTM/core"
)

const storeConcurrency = 4

func storeCommand() *cli.Command {
	var (
		cfg     config
		userID  string
		noteTag string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "Owner of the notes",
			Destination: &userID,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "context",
			Usage:       "Tag embedded together with every note",
			Destination: &noteTag,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, embedderFlags(&cfg)...)

	return &cli.Command{
		Name:      "store",
		Usage:     "Store one or more notes for a user",
		ArgsUsage: "<note> [note...]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			notes := c.Args().Slice()
			if len(notes) == 0 {
				return goerr.New("at least one note is required")
			}

			if _, err := prepare(&cfg, c); err != nil {
				return err
			}
			logger := cfg.newLogger()
			if cfg.store == storeChromem && cfg.chromemPath == "" {
				logger.Warn("chromem store has no --chromem-path; notes are discarded on exit")
			}

			manager, cleanup, err := cfg.newManager(ctx, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := manager.Initialize(ctx); err != nil {
				return goerr.Wrap(err, "failed to initialize memory")
			}

			ids := make([]string, len(notes))
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(storeConcurrency)
			for i, note := range notes {
				g.Go(func() error {
					id, err := manager.StoreMemory(gctx, core.StoreRequest{
						BaseInput: core.BaseInput{UserID: userID},
						Content:   note,
						Context:   noteTag,
					})
					if err != nil {
						return goerr.Wrap(err, "failed to store note", goerr.V("index", i))
					}
					ids[i] = id
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			for _, id := range ids {
				fmt.Fprintln(c.Root().Writer, id)
			}
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	var (
		cfg      config
		userID   string
		limit    int64
		minScore float64
		asJSON   bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "Owner whose notes are searched",
			Destination: &userID,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of notes to return",
			Value:       core.DefaultLimit,
			Destination: &limit,
		},
		&cli.FloatFlag{
			Name:        "min-score",
			Usage:       "Minimum cosine similarity",
			Value:       core.DefaultMinScore,
			Destination: &minScore,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print results as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, embedderFlags(&cfg)...)

	return &cli.Command{
		Name:      "search",
		Usage:     "Search a user's notes by meaning",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.Join(c.Args().Slice(), " ")

			if _, err := prepare(&cfg, c); err != nil {
				return err
			}
			logger := cfg.newLogger()

			manager, cleanup, err := cfg.newManager(ctx, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := manager.Initialize(ctx); err != nil {
				return goerr.Wrap(err, "failed to initialize memory")
			}

			l := int(limit)
			results, err := manager.SearchMemory(ctx, core.SearchRequest{
				BaseInput: core.BaseInput{UserID: userID},
				Query:     query,
				Limit:     &l,
				MinScore:  &minScore,
			})
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return goerr.Wrap(err, "failed to encode results")
				}
				return nil
			}

			if len(results) == 0 {
				fmt.Fprintln(w, "no matching notes")
				return nil
			}
			for _, m := range results {
				fmt.Fprintf(w, "%.4f  %s  %s\n", m.Score, m.CreatedAt, m.Text)
				if m.Context != "" {
					fmt.Fprintf(w, "        context: %s\n", m.Context)
				}
			}
			return nil
		},
	}
}
