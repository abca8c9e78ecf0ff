package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/argh/config"
	"github.com/wesm/argh/internal/db"
	"github.com/wesm/argh/internal/logging"
	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/recommend"
	"github.com/wesm/argh/internal/server"
	"github.com/wesm/argh/internal/sync"
	"github.com/wesm/argh/internal/turn"
)

var version = "dev"

var (
	configPath string
	logLevel   string
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "argh",
	Short:        "Pick the next GitHub issue or pull request worth a maintainer's time",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger, err = logging.New(cfg.Log.Level, cfg.Log.Format, nil)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "Path to configuration file (.json, .yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	nextCmd.Flags().Int64Var(&userID, "user", 0, "GitHub user id of the maintainer")
	nextCmd.Flags().BoolVar(&includeScoring, "scoring", false, "Include signals and score breakdown")
	nextCmd.Flags().StringSliceVar(&snoozed, "snooze", nil, "Items to skip, as type:id")
	_ = nextCmd.MarkFlagRequired("user")

	prefsCmd.Flags().Int64Var(&userID, "user", 0, "GitHub user id")
	prefsCmd.Flags().BoolVar(&prefFlags.PreferKnownCustomers, "known-customers", false, "Boost items from known customers")
	prefsCmd.Flags().BoolVar(&prefFlags.PreferRecentActivity, "recent-activity", false, "Boost recently active items")
	prefsCmd.Flags().BoolVar(&prefFlags.PreferWaitingOnMe, "waiting-on-me", false, "Boost items waiting on a maintainer")
	prefsCmd.Flags().BoolVar(&prefFlags.PreferQuickWins, "quick-wins", false, "Boost small items")
	prefsCmd.Flags().BoolVar(&prefFlags.StarredOnly, "starred-only", false, "Only recommend from starred repositories")
	_ = prefsCmd.MarkFlagRequired("user")

	starCmd.PersistentFlags().Int64Var(&userID, "user", 0, "GitHub user id")
	_ = starCmd.MarkPersistentFlagRequired("user")
	starCmd.AddCommand(starAddCmd, starRemoveCmd)

	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address (default from config)")

	rootCmd.AddCommand(initCmd, versionCmd, syncCmd, nextCmd, turnCmd, serveCmd, prefsCmd, starCmd, companyCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("argh", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default configuration file if it doesn't exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		created, err := config.CreateDefaultConfig(configPath)
		if err != nil {
			return fmt.Errorf("creating default configuration: %w", err)
		}
		if !created {
			fmt.Printf("Config already exists: %s\n", configPath)
			return nil
		}
		fmt.Printf("Created config: %s\n", configPath)
		fmt.Printf("Set a token in %s or configure a GitHub App before syncing.\n", config.EnvGithubToken)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [org|owner/name ...]",
	Short: "Sync organizations or single repositories (default: configured organizations)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		targets := args
		if len(targets) == 0 {
			targets = cfg.Organizations
		}
		if len(targets) == 0 {
			return errors.New("no organizations configured and no target given")
		}

		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		ctx := cmd.Context()
		runner := &syncRunner{cfg: cfg, store: database, logger: logger}
		var failed bool
		for _, target := range targets {
			summary, err := runner.Sync(ctx, target)
			if summary != nil {
				printSummary(summary)
			}
			if err != nil {
				logger.Error("sync failed", "target", target, "error", err)
				failed = true
			}
		}
		if failed {
			return errors.New("one or more sync passes failed")
		}
		return nil
	},
}

func printSummary(s *sync.Summary) {
	fmt.Printf("%s: %d repositories (%d skipped), %d issues, %d pull requests in %s\n",
		s.Target, s.ReposProcessed, s.ReposSkipped, s.IssuesSynced, s.PRsSynced,
		s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	for _, e := range s.ErrorStrings() {
		fmt.Printf("  error: %s\n", e)
	}
}

var (
	userID         int64
	includeScoring bool
	snoozed        []string
)

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Print the next recommended item as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateDatabase(); err != nil {
			return err
		}
		refs, err := parseSnoozes(snoozed)
		if err != nil {
			return err
		}

		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		ctx := cmd.Context()
		prefs, err := database.GetPreferences(ctx, userID)
		if err != nil {
			return err
		}
		rec, err := newEngine(database).Next(ctx, recommend.Request{
			UserID:         userID,
			Preferences:    prefs,
			Snoozed:        refs,
			IncludeScoring: includeScoring,
		})
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("Nothing to recommend.")
			return nil
		}
		return printJSON(rec)
	},
}

func parseSnoozes(values []string) ([]models.ItemRef, error) {
	refs := make([]models.ItemRef, 0, len(values))
	for _, v := range values {
		kind, rawID, ok := strings.Cut(v, ":")
		id, err := strconv.ParseInt(rawID, 10, 64)
		if !ok || err != nil || !models.ItemType(kind).Valid() {
			return nil, fmt.Errorf("invalid snooze %q, expected issue:<id> or pull_request:<id>", v)
		}
		refs = append(refs, models.ItemRef{Type: models.ItemType(kind), ID: id})
	}
	return refs, nil
}

var turnCmd = &cobra.Command{
	Use:   "turn <owner/name> <issue|pull_request> <number>",
	Short: "Print whose turn it is on one open item",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateDatabase(); err != nil {
			return err
		}
		owner, name, err := sync.ParseRepositoryString(args[0])
		if err != nil {
			return err
		}
		itemType := models.ItemType(args[1])
		if !itemType.Valid() {
			return fmt.Errorf("invalid item type %q", args[1])
		}
		number, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", args[2], err)
		}

		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		ctx := cmd.Context()
		repo, err := database.GetRepositoryByFullName(ctx, owner+"/"+name)
		if err != nil {
			return fmt.Errorf("repository %s/%s: %w", owner, name, err)
		}
		item, err := database.FindWorkItem(ctx, repo.ID, itemType, number)
		if err != nil {
			return fmt.Errorf("%s #%d: %w", itemType, number, err)
		}
		state, err := turn.NewService(database, cfg.StallInterval.Std()).State(ctx, item.Ref())
		if err != nil {
			return err
		}

		fmt.Printf("%s#%d %s\n", repo.FullName, item.Number, item.Title)
		fmt.Printf("  turn: %s\n", state.Turn)
		fmt.Printf("  stalled: %t\n", state.Stalled)
		if !state.LastMaintainerActionAt.IsZero() {
			fmt.Printf("  last maintainer action: %s\n", state.LastMaintainerActionAt.Format(time.RFC3339))
		}
		return nil
	},
}

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		addr := listenAddr
		if addr == "" {
			addr = cfg.ListenAddr
		}

		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		srv := server.New(server.Options{
			Recommender: newEngine(database),
			Turns:       turn.NewService(database, cfg.StallInterval.Std()),
			Syncer:      &syncRunner{cfg: cfg, store: database, logger: logger},
			Preferences: database,
			Logger:      logger,
		})
		return srv.ListenAndServe(cmd.Context(), addr)
	},
}

var prefFlags models.Preferences

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show preferences, or update the ones given as flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateDatabase(); err != nil {
			return err
		}
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		patch := preferencesPatch(cmd)
		ctx := cmd.Context()
		var prefs models.Preferences
		if patch.Empty() {
			prefs, err = database.GetPreferences(ctx, userID)
		} else {
			prefs, err = database.PatchPreferences(ctx, userID, patch)
		}
		if err != nil {
			return err
		}
		return printJSON(prefs)
	},
}

// preferencesPatch sets only the flags given on the command line
func preferencesPatch(cmd *cobra.Command) models.PreferencesPatch {
	var p models.PreferencesPatch
	flags := cmd.Flags()
	set := func(name string, v bool, dst **bool) {
		if flags.Changed(name) {
			*dst = &v
		}
	}
	set("known-customers", prefFlags.PreferKnownCustomers, &p.PreferKnownCustomers)
	set("recent-activity", prefFlags.PreferRecentActivity, &p.PreferRecentActivity)
	set("waiting-on-me", prefFlags.PreferWaitingOnMe, &p.PreferWaitingOnMe)
	set("quick-wins", prefFlags.PreferQuickWins, &p.PreferQuickWins)
	set("starred-only", prefFlags.StarredOnly, &p.StarredOnly)
	return p
}

var starCmd = &cobra.Command{
	Use:   "star",
	Short: "Star or unstar repositories for the starred-only preference",
}

var starAddCmd = &cobra.Command{
	Use:   "add <owner/name>",
	Short: "Star a synced repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepository(cmd, args[0], func(database *db.DB, repo *models.Repository) error {
			if err := database.StarRepository(cmd.Context(), userID, repo.ID); err != nil {
				return err
			}
			fmt.Printf("Starred %s\n", repo.FullName)
			return nil
		})
	},
}

var starRemoveCmd = &cobra.Command{
	Use:   "remove <owner/name>",
	Short: "Unstar a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepository(cmd, args[0], func(database *db.DB, repo *models.Repository) error {
			if err := database.UnstarRepository(cmd.Context(), userID, repo.ID); err != nil {
				return err
			}
			fmt.Printf("Unstarred %s\n", repo.FullName)
			return nil
		})
	},
}

func withRepository(cmd *cobra.Command, fullName string, fn func(*db.DB, *models.Repository) error) error {
	if err := cfg.ValidateDatabase(); err != nil {
		return err
	}
	if _, _, err := sync.ParseRepositoryString(fullName); err != nil {
		return err
	}
	database, err := openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	repo, err := database.GetRepositoryByFullName(cmd.Context(), fullName)
	if err != nil {
		return fmt.Errorf("repository %s: %w", fullName, err)
	}
	return fn(database, repo)
}

var companyCmd = &cobra.Command{
	Use:   "company <login> <company>",
	Short: "Override the company recorded for a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateDatabase(); err != nil {
			return err
		}
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.SetCompanyOverride(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Company for %s set to %q\n", args[0], args[1])
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
