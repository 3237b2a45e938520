package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "crawlwatch",
		Usage:   "Watch crawl analysis progress and manage submitted URLs",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file (default: ./crawlwatch.toml when present)",
				Sources: cli.EnvVars("CRAWL_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "ws-url",
				Usage: "Realtime endpoint of the crawl service",
			},
			&cli.StringFlag{
				Name:  "api-url",
				Usage: "REST base URL of the crawl service",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "trace, debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Human-readable console logs",
			},
		},
		Before:   r.Setup,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		initCommand, watchCommand, sendCommand, loginCommand, logoutCommand, refreshCommand, whoamiCommand, urlsCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

func initCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write an example configuration file",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "path", Value: defaultConfigFile},
		},
		Action: r.Init,
	}
}

func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream crawl updates until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status-addr",
				Usage: "Serve /status, /urls, /metrics and /ws on this address",
			},
			&cli.BoolFlag{
				Name:  "redis",
				Usage: "Relay updates through Redis pub/sub",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print each message as a JSON line",
			},
		},
		Action: r.Watch,
	}
}

func sendCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Send one JSON frame over the realtime connection",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "payload"},
		},
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the connection",
				Value: 10 * time.Second,
			},
		},
		Action: r.Send,
	}
}

func loginCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Authenticate and store the session token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "username",
				Aliases:  []string{"u"},
				Required: true,
				Sources:  cli.EnvVars("CRAWL_USERNAME"),
			},
			&cli.StringFlag{
				Name:     "password",
				Aliases:  []string{"p"},
				Required: true,
				Sources:  cli.EnvVars("CRAWL_PASSWORD"),
			},
		},
		Action: r.Login,
	}
}

func logoutCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "Invalidate and forget the session token",
		Action: r.Logout,
	}
}

func refreshCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "refresh",
		Usage:  "Exchange the session token for a fresh one",
		Action: r.Refresh,
	}
}

func whoamiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "whoami",
		Usage:  "Show the authenticated user",
		Action: r.Whoami,
	}
}

func urlsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "urls",
		Usage: "Manage submitted URLs",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List submitted URLs",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Usage: "Page number"},
					&cli.IntFlag{Name: "limit", Usage: "Page size"},
					&cli.StringFlag{Name: "search", Usage: "Filter by URL or title"},
					&cli.StringFlag{Name: "sort", Usage: "Sort field"},
					&cli.StringFlag{Name: "order", Usage: "asc or desc"},
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.URLsList,
			},
			{
				Name:      "add",
				Usage:     "Submit a URL for analysis",
				Arguments: []cli.Argument{&cli.StringArg{Name: "url"}},
				Action:    r.URLsAdd,
			},
			{
				Name:      "get",
				Usage:     "Show one URL's analysis",
				Arguments: idArg(),
				Action:    r.URLsGet,
			},
			{
				Name:      "delete",
				Usage:     "Delete URLs by id",
				ArgsUsage: "<id> [id...]",
				Action:    r.URLsDelete,
			},
			{
				Name:      "start",
				Usage:     "Start crawling a URL",
				Arguments: idArg(),
				Action:    r.URLsStart,
			},
			{
				Name:      "stop",
				Usage:     "Stop crawling a URL",
				Arguments: idArg(),
				Action:    r.URLsStop,
			},
			{
				Name:      "rerun",
				Usage:     "Queue a URL for re-analysis",
				Arguments: idArg(),
				Action:    r.URLsRerun,
			},
		},
	}
}

func idArg() []cli.Argument {
	return []cli.Argument{&cli.StringArg{Name: "id"}}
}
