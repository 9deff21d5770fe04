package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ai-gateway/internal/auth"
	"ai-gateway/internal/oidc"
)

var (
	inspectSession string

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Token debugging helpers",
	}
	tokenInspectCmd = &cobra.Command{
		Use:   "inspect [token]",
		Short: "Decode a bearer token without verifying it",
		Long: `Decodes the given token. Without an argument the token of --session,
or else the Vercel CLI's cached token, is inspected.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runTokenInspect,
	}
)

func init() {
	tokenInspectCmd.Flags().StringVar(&inspectSession, "session", "", "inspect the token of this session")
	tokenCmd.AddCommand(tokenInspectCmd)
}

func runTokenInspect(cmd *cobra.Command, args []string) error {
	token, source, err := tokenToInspect(cmd, args)
	if err != nil {
		return err
	}
	info, err := oidc.InspectToken(token)
	if err != nil {
		return err
	}
	printTokenInfo(cmd.OutOrStdout(), source, auth.MaskToken(strings.TrimPrefix(token, "Bearer ")), info, time.Now())
	return nil
}

func tokenToInspect(cmd *cobra.Command, args []string) (token, source string, err error) {
	if len(args) == 1 {
		return args[0], "argument", nil
	}
	if inspectSession != "" {
		ctx := commandContext(cmd)
		store, closeStore, err := newSessionStore(ctx, cfg, nil, false)
		if err != nil {
			return "", "", err
		}
		defer closeStore()
		token, err := store.Token(ctx, inspectSession)
		return token, "session " + inspectSession, err
	}

	path := cfg.Vercel.AuthPath
	if path == "" {
		if path, err = oidc.CLIAuthPath(); err != nil {
			return "", "", err
		}
	}
	token, err = oidc.ReadCLIToken(oidc.OSFiles, path)
	return token, path, err
}

func printTokenInfo(w io.Writer, source, masked string, info oidc.TokenInfo, now time.Time) {
	fmt.Fprintln(w, "Token Analysis")
	fmt.Fprintln(w, "----------------------------")
	fmt.Fprintf(w, "Source:    %s\n", source)
	fmt.Fprintf(w, "Token:     %s\n", masked)
	fmt.Fprintf(w, "Length:    %d\n", info.Length)
	fmt.Fprintf(w, "JWT:       %v\n", info.JWT)
	if info.JWT {
		fmt.Fprintf(w, "Algorithm: %s\n", info.Algorithm)
		if info.Subject != "" {
			fmt.Fprintf(w, "Subject:   %s\n", info.Subject)
		}
		if info.Issuer != "" {
			fmt.Fprintf(w, "Issuer:    %s\n", info.Issuer)
		}
		if !info.ExpiresAt.IsZero() {
			state := "valid"
			if info.Expired(now) {
				state = "EXPIRED"
			}
			fmt.Fprintf(w, "Expires:   %s (%s)\n", info.ExpiresAt.UTC().Format(time.RFC3339), state)
		}
		fmt.Fprintf(w, "Claims:    %s\n", strings.Join(info.Claims, ", "))
	}
	for _, warning := range info.Warnings {
		fmt.Fprintf(w, "WARNING: %s\n", warning)
	}
}
