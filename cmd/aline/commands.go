package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nugget/aline-bot/internal/chat"
	"github.com/nugget/aline-bot/internal/handler"
	"github.com/nugget/aline-bot/internal/scheduler"
)

// openApp loads configuration and assembles the app for a one-shot
// command. Logs go to stderr so stdout carries only the result.
func openApp(cmd *cobra.Command, opts *options) (*app, error) {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, configuredLogger(cmd.ErrOrStderr(), cfg))
}

// --- ask ---

func newAskCmd(opts *options) *cobra.Command {
	var (
		userID string
		name   string
	)
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Run one turn and print the answer",
		Long: `Run one turn and print the answer.

Without --handler the message goes through the router with the user's
conversation window, exactly as a LINE message would. With --handler the
named handler runs directly on the message.

Examples:
  aline ask "서울 날씨 알려줘"
  aline ask --user U123 "매일 아침 8시에 경제 뉴스 보내줘"
  aline ask -H subway "강남역 도착 정보"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			text := strings.Join(args, " ")
			var res handler.TurnResult
			if name != "" {
				res, err = a.router.Handle(cmd.Context(), name, text)
			} else {
				var reply chat.Reply
				reply, err = a.chat.Turn(cmd.Context(), userID, text)
				res = handler.TurnResult{Answer: reply.Answer, Status: reply.Status}
			}
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.output, res)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "user id the turn runs as")
	cmd.Flags().StringVarP(&name, "handler", "H", "", "run this handler directly (weather, news, subway, schedule, help)")
	return cmd
}

// statusColor marks refusals and turn-limit answers so they stand out
// when testing prompts by hand.
func statusColor(s handler.Status) *color.Color {
	switch s {
	case handler.Success:
		return color.New(color.FgGreen)
	case handler.TurnLimitExceeded:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func printResult(w io.Writer, output string, res handler.TurnResult) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{"answer": res.Answer, "status": string(res.Status)})
	}
	fmt.Fprintf(w, "[%s]\n%s\n", statusColor(res.Status).Sprint(res.Status), res.Answer)
	return nil
}

// --- tick ---

func newTickCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler pass now",
		Long: `Run one scheduler pass now.

Jobs due at the current minute that have not been sent today are
dispatched. Answers are delivered through the configured channels.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			sink, stop, err := a.sink(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer stop()

			report, err := a.engine(sink).Tick(cmd.Context())
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), opts.output, report)
		},
	}
}

func printReport(w io.Writer, output string, r scheduler.TickReport) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	failed := fmt.Sprint(r.Failed)
	if r.Failed > 0 {
		failed = color.RedString("%d", r.Failed)
	}
	fmt.Fprintf(w, "%s due=%d matched=%d sent=%d failed=%s skipped=%d\n",
		r.At.Format("2006-01-02 15:04"), r.Due, r.Matched, r.Sent, failed, r.Skipped)
	return nil
}

// --- jobs ---

func newJobsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and delete scheduled jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list [user]",
		Short: "List scheduled jobs, optionally for one user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			var jobs []*scheduler.Job
			if len(args) == 1 {
				jobs, err = a.jobs.ListByUser(cmd.Context(), args[0])
			} else {
				jobs, err = a.jobs.List(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printJobs(cmd.OutOrStdout(), opts.output, jobs)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.jobs.Delete(cmd.Context(), args[0])
			if errors.Is(err, scheduler.ErrNotFound) {
				return fmt.Errorf("job %s not found", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s job %s\n", color.GreenString("deleted"), args[0])
			return nil
		},
	})
	return cmd
}

func printJobs(w io.Writer, output string, jobs []*scheduler.Job) error {
	if output == "json" {
		if jobs == nil {
			jobs = []*scheduler.Job{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}
	if len(jobs) == 0 {
		fmt.Fprintln(w, "no jobs")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tSCHEDULE\tHANDLERS\tLAST SENT")
	for _, j := range jobs {
		last := "-"
		if j.LastSentAt != nil {
			last = j.LastSentAt.Format("2006-01-02 15:04")
		}
		when := j.Days.String()
		if j.Once {
			when = "once"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\t%s\n", j.ID, j.UserID, when, j.TimeOfDay(), strings.Join(j.Handlers, ","), last)
	}
	return tw.Flush()
}
