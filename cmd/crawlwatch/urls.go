package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/orchestra-mcp/crawlwatch/src/api"
	"github.com/orchestra-mcp/crawlwatch/src/types"
	"github.com/urfave/cli/v3"
)

// Login authenticates and persists the session token.
func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	res, err := r.api.Login(ctx, cmd.String("username"), cmd.String("password"))
	if err != nil {
		return err
	}
	return r.writePlain("logged in as %s\n", res.User.Username)
}

// Logout forgets the session token even when the service call fails.
func (r *Runner) Logout(ctx context.Context, cmd *cli.Command) error {
	if err := r.api.Logout(ctx); err != nil {
		return err
	}
	return r.writePlain("logged out\n")
}

// Refresh replaces the stored token.
func (r *Runner) Refresh(ctx context.Context, cmd *cli.Command) error {
	if _, err := r.api.RefreshToken(ctx); err != nil {
		return err
	}
	return r.writePlain("token refreshed\n")
}

// Whoami prints the authenticated user.
func (r *Runner) Whoami(ctx context.Context, cmd *cli.Command) error {
	u, err := r.api.Me(ctx)
	if err != nil {
		return err
	}
	return r.writeJSON(u, true)
}

// URLsList prints a page of submitted URLs.
func (r *Runner) URLsList(ctx context.Context, cmd *cli.Command) error {
	urls, page, err := r.api.ListURLs(ctx, api.ListParams{
		Page:   int(cmd.Int("page")),
		Limit:  int(cmd.Int("limit")),
		Search: cmd.String("search"),
		Sort:   cmd.String("sort"),
		Order:  cmd.String("order"),
	})
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(urls, false)
	}

	tw := tabwriter.NewWriter(r.output, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tURL\tTITLE")
	for _, u := range urls {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Status, u.URL, deref(u.Title))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if page != nil {
		return r.writePlain("page %d of %d (%d total)\n", page.Page, page.TotalPages, page.Total)
	}
	return nil
}

// URLsAdd submits a URL.
func (r *Runner) URLsAdd(ctx context.Context, cmd *cli.Command) error {
	raw := cmd.StringArg("url")
	if err := requireArg(raw, "url"); err != nil {
		return err
	}
	created, err := r.api.CreateURL(ctx, raw)
	if err != nil {
		return err
	}
	return r.writePlain("added %s (%s)\n", created.URL, created.ID)
}

// URLsGet prints one URL's analysis.
func (r *Runner) URLsGet(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if err := requireArg(id, "id"); err != nil {
		return err
	}
	u, err := r.api.GetURL(ctx, id)
	if err != nil {
		return err
	}
	return r.writeJSON(u, true)
}

// URLsDelete deletes every id given as an argument.
func (r *Runner) URLsDelete(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.Args().Slice()
	if len(ids) == 0 {
		return requireArg("", "id")
	}
	if err := r.api.DeleteURLs(ctx, ids); err != nil {
		return err
	}
	return r.writePlain("deleted %d url(s)\n", len(ids))
}

// URLsStart starts crawling.
func (r *Runner) URLsStart(ctx context.Context, cmd *cli.Command) error {
	return r.urlAction(ctx, cmd, "started", r.api.StartCrawling)
}

// URLsStop stops crawling.
func (r *Runner) URLsStop(ctx context.Context, cmd *cli.Command) error {
	return r.urlAction(ctx, cmd, "stopped", r.api.StopCrawling)
}

// URLsRerun queues re-analysis.
func (r *Runner) URLsRerun(ctx context.Context, cmd *cli.Command) error {
	return r.urlAction(ctx, cmd, "queued", r.api.RerunAnalysis)
}

func (r *Runner) urlAction(ctx context.Context, cmd *cli.Command, verb string, fn func(context.Context, string) error) error {
	id := cmd.StringArg("id")
	if err := requireArg(id, "id"); err != nil {
		return err
	}
	if err := fn(ctx, id); err != nil {
		return err
	}
	return r.writePlain("%s %s\n", verb, id)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatMessage(msg types.Message) string {
	line := string(msg.Type)
	if msg.URL != "" {
		line += " " + msg.URL
	}
	if msg.Status != "" {
		line += " status=" + string(msg.Status)
	}
	if msg.Progress != nil {
		line += fmt.Sprintf(" progress=%.0f%%", *msg.Progress)
	}
	if msg.Error != "" {
		line += fmt.Sprintf(" error=%q", msg.Error)
	}
	if msg.Message != "" {
		line += fmt.Sprintf(" message=%q", msg.Message)
	}
	return line
}
