package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/orchestra-mcp/crawlwatch/config"
	"github.com/orchestra-mcp/crawlwatch/src/api"
	"github.com/orchestra-mcp/crawlwatch/src/credentials"
	"github.com/orchestra-mcp/crawlwatch/src/transport"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"github.com/valyala/fasthttp"
)

const defaultConfigFile = "crawlwatch.toml"

// Runner holds the dependencies shared by every command action.
type Runner struct {
	cfg        *config.Config
	logger     *zerolog.Logger
	output     io.Writer
	tokens     credentials.Store
	dialer     transport.Dialer
	httpClient *fasthttp.Client
	api        *api.Client
}

// RunnerOpts overrides what Setup would otherwise build from configuration.
type RunnerOpts struct {
	Config     *config.Config
	Logger     *zerolog.Logger
	Output     io.Writer
	Tokens     credentials.Store
	Dialer     transport.Dialer
	HTTPClient *fasthttp.Client
}

// NewRunner creates a Runner. Anything left nil is filled in by Setup.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{
		cfg:        opts.Config,
		logger:     opts.Logger,
		output:     opts.Output,
		tokens:     opts.Tokens,
		dialer:     opts.Dialer,
		httpClient: opts.HTTPClient,
	}
}

// Setup resolves configuration (defaults, file, environment, then flags)
// and builds the logger, token store and REST client.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if r.cfg == nil {
		path := cmd.String("config")
		if path == "" {
			if _, err := os.Stat(defaultConfigFile); err == nil {
				path = defaultConfigFile
			}
		}
		cfg, err := config.Load(path)
		if err != nil {
			return ctx, err
		}
		r.cfg = cfg
	}
	if v := cmd.String("ws-url"); v != "" {
		r.cfg.WSURL = v
	}
	if v := cmd.String("api-url"); v != "" {
		r.cfg.APIURL = v
	}
	if v := cmd.String("log-level"); v != "" {
		r.cfg.Log.Level = v
	}
	if cmd.Bool("pretty") {
		r.cfg.Log.Pretty = true
	}
	if err := r.cfg.Validate(); err != nil {
		return ctx, err
	}

	if r.logger == nil {
		logger, err := newLogger(os.Stderr, r.cfg.Log.Level, r.cfg.Log.Pretty)
		if err != nil {
			return ctx, err
		}
		r.logger = &logger
	}
	if r.tokens == nil {
		// CRAWL_TOKEN pins the session for this process without touching the file.
		if tok := (credentials.Env{Key: "CRAWL_TOKEN"}).Token(); tok != "" {
			r.tokens = credentials.NewMemory(tok)
		} else {
			r.tokens = credentials.NewFile(r.cfg.TokenFile)
		}
	}
	if r.dialer == nil {
		r.dialer = transport.NewWebSocketDialer(r.cfg.HandshakeTimeout)
	}

	var opts []api.Option
	if r.httpClient != nil {
		opts = append(opts, api.WithHTTPClient(r.httpClient))
	}
	r.api = api.New(r.cfg.APIURL, r.tokens, r.cfg.RequestTimeout, *r.logger, opts...)
	return ctx, nil
}

// Init writes the example configuration.
func (r *Runner) Init(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		path = defaultConfigFile
	}
	if err := config.CreateConfigFile(path); err != nil {
		return err
	}
	return r.writePlain("wrote %s\n", path)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	output = append(output, '\n')
	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	if _, err := fmt.Fprintf(r.output, format, args...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

var errMissingArg = errors.New("missing argument")

func requireArg(value, name string) error {
	if value == "" {
		return fmt.Errorf("%w: %s", errMissingArg, name)
	}
	return nil
}
