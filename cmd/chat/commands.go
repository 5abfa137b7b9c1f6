package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/productivity-assistant/backend/internal/api"
	"github.com/zhouzirui/productivity-assistant/backend/internal/auth"
)

func newLoginCmd(a *app) *cobra.Command {
	var user, token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the bearer token used for chat and API calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(token) == "" {
				return errors.New("--token is required")
			}
			if err := a.store.Save(auth.Credentials{Username: user, Token: token}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved credentials to %s\n", a.cfg.CredentialsPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "display name sent with messages")
	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.Clear()
		},
	}
}

func (a *app) apiClient() *api.Client {
	return api.NewClient(a.cfg.BaseURL, a.store, api.WithLogger(a.logger))
}

func newSummarizeCmd(a *app) *cobra.Command {
	var noteID int64
	cmd := &cobra.Command{
		Use:   "summarize [TEXT]",
		Short: "Summarize text, or a stored note with --note",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				summary string
				err     error
			)
			switch {
			case noteID > 0:
				summary, err = a.apiClient().SummarizeNote(cmd.Context(), noteID)
			case len(args) > 0:
				summary, err = a.apiClient().Summarize(cmd.Context(), strings.Join(args, " "))
			default:
				return errors.New("nothing to summarize: pass TEXT or --note")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	cmd.Flags().Int64Var(&noteID, "note", 0, "id of a stored note")
	return cmd
}

func newTasksCmd(a *app) *cobra.Command {
	var create bool
	cmd := &cobra.Command{
		Use:   "tasks TEXT",
		Short: "Extract actionable tasks from text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.apiClient().GenerateTasks(cmd.Context(), strings.Join(args, " "), create)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, task := range result.Tasks {
				fmt.Fprintf(out, "%d. %s\n", i+1, task)
			}
			if result.Created {
				fmt.Fprintln(out, "Tasks created.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "ask the server to create the tasks")
	return cmd
}

func newDailyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Show today's productivity summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := a.apiClient().DailySummary(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n%s\n", summary.Stats, summary.Summary)
			return nil
		},
	}
}

func newInsightsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "insights",
		Short: "Show insights over recent notes and tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			insights, err := a.apiClient().Insights(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), insights)
			return nil
		},
	}
}
