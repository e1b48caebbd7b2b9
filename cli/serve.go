package cli

import (
	"context"
	"net"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/t-bank-sirius/LTM/lexical"
	"github.com/t-bank-sirius/LTM/server"
)

type serveConfig struct {
	host      string
	port      int64
	rateLimit float64
	rateBurst int64
}

func (sc *serveConfig) apply(c flagSetter, fc serverFileConfig) {
	if fc.Host != "" && !c.IsSet("host") {
		sc.host = fc.Host
	}
	if fc.Port != 0 && !c.IsSet("port") {
		sc.port = fc.Port
	}
	if fc.RateLimit != 0 && !c.IsSet("rate-limit") {
		sc.rateLimit = fc.RateLimit
	}
	if fc.RateBurst != 0 && !c.IsSet("rate-burst") {
		sc.rateBurst = fc.RateBurst
	}
}

func (sc *serveConfig) validate() error {
	if sc.port < 1 || sc.port > 65535 {
		return goerr.New("port out of range", goerr.V("port", sc.port))
	}
	if sc.rateLimit < 0 {
		return goerr.New("rate limit must not be negative", goerr.V("rate_limit", sc.rateLimit))
	}
	return nil
}

func (sc *serveConfig) addr() string {
	return net.JoinHostPort(sc.host, strconv.FormatInt(sc.port, 10))
}

func serveCommand() *cli.Command {
	var (
		cfg config
		sc  serveConfig
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "host",
			Usage:       "Listen address",
			Value:       "0.0.0.0",
			Sources:     cli.EnvVars("HOST"),
			Destination: &sc.host,
		},
		&cli.IntFlag{
			Name:        "port",
			Aliases:     []string{"p"},
			Usage:       "Listen port",
			Value:       8005,
			Sources:     cli.EnvVars("PORT"),
			Destination: &sc.port,
		},
		&cli.FloatFlag{
			Name:        "rate-limit",
			Usage:       "Operations per second allowed per user (0 disables limiting)",
			Value:       20,
			Sources:     cli.EnvVars("LTM_RATE_LIMIT"),
			Destination: &sc.rateLimit,
		},
		&cli.IntFlag{
			Name:        "rate-burst",
			Usage:       "Burst size of the per-user rate limit",
			Value:       40,
			Sources:     cli.EnvVars("LTM_RATE_BURST"),
			Destination: &sc.rateBurst,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, embedderFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP and websocket service",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			fc, err := prepare(&cfg, c)
			if err != nil {
				return err
			}
			sc.apply(c, fc.Server)
			if err := sc.validate(); err != nil {
				return err
			}

			logger := cfg.newLogger()

			manager, cleanup, err := cfg.newManager(ctx, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			// Load the model and prepare the collection before accepting traffic.
			if err := manager.Initialize(ctx); err != nil {
				return goerr.Wrap(err, "failed to initialize memory")
			}

			opts := []server.Option{server.WithLogger(logger)}
			if sc.rateLimit > 0 {
				opts = append(opts, server.WithGuardrails(server.NewRateGuardrails(sc.rateLimit, int(sc.rateBurst), server.WithRateLogger(logger))))
			}
			srv := server.New(manager, lexical.New(lexical.WithLogger(logger)), opts...)

			return srv.ListenAndServe(ctx, sc.addr())
		},
	}
}
