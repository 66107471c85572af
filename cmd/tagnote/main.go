package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/tagnote/internal/observability"
	"github.com/hrygo/tagnote/internal/profile"
	"github.com/hrygo/tagnote/store"
	"github.com/hrygo/tagnote/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "tagnote",
	Short: "Tag-addressed record store utilities",
}

var statsCmd = &cobra.Command{
	Use:   "stats USER_ID...",
	Short: "Print tag statistics for the given users",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		for _, raw := range args {
			userID, err := store.ParseUserID(raw)
			if err != nil {
				return err
			}
			reqCtx := observability.NewRequestContext(slog.Default(), "stats", string(userID))
			stats, err := s.GetTagStatistics(observability.WithRequestContext(ctx, reqCtx), userID)
			if err != nil {
				reqCtx.Error("statistics failed", err)
				return err
			}
			reqCtx.Info("statistics computed",
				slog.Int("tags", len(stats)),
				slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
			fmt.Printf("user %s (%d tags)\n", userID, len(stats))
			for _, st := range stats {
				fmt.Printf("  %-40s %d\n", st.Tag, st.Count)
			}
		}
		printCacheMetrics()
		return nil
	},
}

// printCacheMetrics dumps the per-category cache counters accumulated during
// this invocation.
func printCacheMetrics() {
	snapshot := observability.GlobalCacheMetrics().Snapshot()
	if len(snapshot) == 0 {
		return
	}
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println("cache:")
	for _, k := range keys {
		fmt.Printf("  %-20s %d\n", k, snapshot[k])
	}
}

var warmupCmd = &cobra.Command{
	Use:   "warmup USER_ID...",
	Short: "Pre-populate the statistics cache for the given users",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for _, raw := range args {
			userID, err := store.ParseUserID(raw)
			if err != nil {
				return err
			}
			g.Go(func() error {
				reqCtx := observability.NewRequestContext(slog.Default(), "warmup", string(userID))
				wctx := observability.WithRequestContext(gctx, reqCtx)
				if _, err := s.GetTagStatistics(wctx, userID); err != nil {
					reqCtx.Error("warmup failed", err)
					return err
				}
				if _, err := s.ListTagSuggestions(wctx, &store.FindTagSuggestion{CreatorID: userID}); err != nil {
					reqCtx.Error("warmup failed", err)
					return err
				}
				reqCtx.Debug("cache populated",
					slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		slog.Info("cache warmed", "users", len(args))
		return nil
	},
}

func newStore() (*store.Store, error) {
	p := &profile.Profile{
		Mode:   viper.GetString("mode"),
		Driver: viper.GetString("driver"),
		DSN:    viper.GetString("dsn"),
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	driver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := driver.Migrate(ctx); err != nil {
		driver.Close()
		return nil, err
	}
	return store.New(driver, p), nil
}

func init() {
	rootCmd.PersistentFlags().String("mode", "dev", "mode of the build: prod or dev")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver: postgres or sqlite")
	rootCmd.PersistentFlags().String("dsn", "", "database connection string")

	viper.SetEnvPrefix("tagnote")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("mode", rootCmd.PersistentFlags().Lookup("mode"))
	_ = viper.BindPFlag("driver", rootCmd.PersistentFlags().Lookup("driver"))
	_ = viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))

	rootCmd.AddCommand(statsCmd, warmupCmd)
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
