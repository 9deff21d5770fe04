package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ai-gateway/internal/auth"
)

var (
	sessionScopes []string

	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored gateway sessions",
	}
	sessionsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List sessions, refreshing expiring oidc tokens",
		Args:  cobra.NoArgs,
		RunE:  runSessionsList,
	}
	sessionsCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a session from an API key or the Vercel CLI identity",
		Args:  cobra.NoArgs,
		RunE:  runSessionsCreate,
	}
	sessionsRemoveCmd = &cobra.Command{
		Use:   "remove [session-id]",
		Short: "Remove a session",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsRemove,
	}
)

func init() {
	sessionsCreateCmd.Flags().StringSliceVar(&sessionScopes, "scopes", nil, "scopes to attach to the session")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsCreateCmd, sessionsRemoveCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	store, closeStore, err := newSessionStore(ctx, cfg, nil, false)
	if err != nil {
		return err
	}
	defer closeStore()

	sessions, err := store.GetSessions(ctx)
	if err != nil {
		return err
	}
	return printSessions(cmd.OutOrStdout(), sessions, time.Now())
}

func printSessions(w io.Writer, sessions []auth.Session, now time.Time) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions. Run 'ai-gateway sessions create' to add one.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMETHOD\tACCOUNT\tTOKEN\tEXPIRES\tSCOPES")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Method, s.Account.Label, auth.MaskToken(s.AccessToken),
			expiryLabel(s, now), strings.Join(s.Scopes, ","))
	}
	return tw.Flush()
}

func expiryLabel(s auth.Session, now time.Time) string {
	if s.OIDCData == nil {
		return "never"
	}
	exp := time.UnixMilli(s.OIDCData.ExpiresAt)
	if !now.Before(exp) {
		return "expired"
	}
	return "in " + exp.Sub(now).Round(time.Minute).String()
}

func runSessionsCreate(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	store, closeStore, err := newSessionStore(ctx, cfg, nil, false)
	if err != nil {
		return err
	}
	defer closeStore()

	session, err := store.CreateSession(ctx, sessionScopes)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s session %s for %s\n", session.Method, session.ID, session.Account.Label)
	return nil
}

func runSessionsRemove(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	store, closeStore, err := newSessionStore(ctx, cfg, nil, false)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.RemoveSession(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed session %s\n", args[0])
	return nil
}
