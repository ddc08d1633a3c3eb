package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"eartune-trainer/internal/config"
	"eartune-trainer/internal/credentials"
	"eartune-trainer/internal/infra/memory"
	"eartune-trainer/internal/infra/postgres"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
)

// NewGamesCmd lists the games offered by the API.
func NewGamesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "games",
		Short: "List available games",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			clients, release, err := connectAPI(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer release()
			catalog := memory.NewGameCatalog(clients.API, config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute))
			games, err := catalog.ListGames(cmd.Context())
			if err != nil {
				return explain(err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
			for _, g := range games {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", g.ID, g.Name, g.Description)
			}
			return tw.Flush()
		},
	}
}

// NewLoginCmd stores a token pair for later commands.
func NewLoginCmd(opts *rootOptions) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the API tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			clients, release, err := connectAPI(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer release()

			in := bufio.NewScanner(cmd.InOrStdin())
			if username == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Username: ")
				if in.Scan() {
					username = strings.TrimSpace(in.Text())
				}
			}
			if password == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Password: ")
				if in.Scan() {
					password = in.Text()
				}
			}

			tokens, err := clients.Auth.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if err := clients.Tokens.Save(cmd.Context(), tokens); err != nil {
				return fmt.Errorf("store tokens: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", username)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "account username")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	return cmd
}

// NewRegisterCmd creates an account; the password is asked for twice when not given.
func NewRegisterCmd(opts *rootOptions) *cobra.Command {
	var username, password string
	var login bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			clients, release, err := connectAPI(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer release()

			out := cmd.OutOrStdout()
			in := bufio.NewScanner(cmd.InOrStdin())
			if username == "" {
				fmt.Fprint(out, "Username: ")
				if in.Scan() {
					username = strings.TrimSpace(in.Text())
				}
			}
			if password == "" {
				var confirm string
				fmt.Fprint(out, "Password: ")
				if in.Scan() {
					password = in.Text()
				}
				fmt.Fprint(out, "Repeat password: ")
				if in.Scan() {
					confirm = in.Text()
				}
				if password != confirm {
					return errors.New("passwords do not match")
				}
			}

			if err := clients.Auth.Register(cmd.Context(), username, password); err != nil {
				return err
			}
			if !login {
				fmt.Fprintf(out, "Account %s created. Run eartune login to sign in.\n", username)
				return nil
			}
			tokens, err := clients.Auth.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if err := clients.Tokens.Save(cmd.Context(), tokens); err != nil {
				return fmt.Errorf("store tokens: %w", err)
			}
			fmt.Fprintf(out, "Account %s created. Signed in as %s\n", username, username)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "account username")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted twice when empty)")
	cmd.Flags().BoolVar(&login, "login", false, "sign in once the account exists")
	return cmd
}

// NewLogoutCmd forgets the stored tokens.
func NewLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored API tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			clients, release, err := connectAPI(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer release()

			if c, ok := clients.Tokens.(interface{ Clear(context.Context) error }); ok {
				err = c.Clear(cmd.Context())
			} else {
				err = clients.Tokens.Save(cmd.Context(), credentials.Tokens{})
			}
			if err != nil {
				return fmt.Errorf("clear tokens: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

// NewProfileCmd prints the signed-in user's progress and achievements.
func NewProfileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show level, XP and achievements",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			clients, release, err := connectAPI(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer release()

			profile, err := clients.API.Profile(cmd.Context())
			if err != nil {
				return explain(err)
			}
			achievements, err := clients.API.Achievements(cmd.Context())
			if err != nil {
				return explain(err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s - level %d\n", profile.Username, profile.Level)
			fmt.Fprintf(out, "XP %d/%d (%.0f%%)\n", profile.CurrentXP, profile.XPForNextLevel, profile.Progress()*100)
			fmt.Fprintf(out, "Games %d, correct %d, accuracy %.1f%%, streak %d\n",
				profile.TotalGamesPlayed, profile.TotalCorrectAnswers, profile.Accuracy(), profile.CurrentStreak)
			if len(achievements) == 0 {
				return nil
			}
			fmt.Fprintln(out, "Achievements:")
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, a := range achievements {
				mark := " "
				if a.Unlocked {
					mark = "x"
				}
				fmt.Fprintf(tw, "[%s]\t%s\t%s\t+%d XP\n", mark, a.Name, a.Description, a.XPReward)
			}
			return tw.Flush()
		},
	}
}

// NewHistoryCmd prints remote session history, or the local round journal with --local.
func NewHistoryCmd(opts *rootOptions) *cobra.Command {
	var local bool
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past game sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

			if local {
				if cfg.Postgres.URL == "" {
					return fmt.Errorf("local history needs postgres.url")
				}
				pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
				if err != nil {
					return fmt.Errorf("connect postgres: %w", err)
				}
				defer pool.Close()
				rounds, err := postgres.NewRoundJournal(pool).ListRounds(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "ENDED\tGAME\tSCORE\tATTEMPTS USED")
				for _, r := range rounds {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", r.EndedAt.Format(time.DateTime), r.GameID, r.Score, r.AttemptsUsed)
				}
				return tw.Flush()
			}

			clients, release, err := connectAPI(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer release()
			entries, err := clients.API.History(cmd.Context())
			if err != nil {
				return explain(err)
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			fmt.Fprintln(tw, "PLAYED\tCHALLENGE\tSCORE\tACTIVE")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", e.DatePlayed.Format(time.DateTime), e.ChallengeID, e.Score, e.Active)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "read the local round journal instead of the API")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to print")
	return cmd
}
