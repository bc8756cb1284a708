package handlers

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"newsintel/internal/config"
	"newsintel/internal/store"
)

// NewCacheCmd creates the cache command for the SQLite extraction cache
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the SQLite extraction cache",
		Long: `Inspect and manage the local extraction cache used when cache.backend is
"sqlite". The Postgres cache table is evicted by 'newsintel cleanup'.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openCache()
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.GetCacheStats(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}

			fmt.Println("📊 Extraction Cache")
			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			fmt.Printf("Directory:  %s\n", config.Get().Cache.Directory)
			fmt.Printf("Entries:    %d\n", stats.EntryCount)
			fmt.Printf("Expired:    %d\n", stats.ExpiredCount)
			fmt.Printf("Size:       %.2f MB\n", float64(stats.CacheSize)/(1024*1024))
			if !stats.LastUpdated.IsZero() {
				fmt.Printf("Updated:    %s\n", stats.LastUpdated.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openCache()
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.DeleteExpired(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Printf("🧹 Pruned %d expired entries\n", n)
			return nil
		},
	})

	var confirm bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cache entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to clear the cache without --confirm")
			}
			s, err := openCache()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.ClearCache(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("✅ Cache cleared")
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm deleting every entry")
	cmd.AddCommand(clearCmd)

	return cmd
}

func openCache() (*store.Store, error) {
	dir := config.Get().Cache.Directory
	if dir == "" {
		return nil, fmt.Errorf("cache.directory is not set")
	}
	return store.NewStore(dir)
}
