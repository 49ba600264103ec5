package main

import (
	"fmt"
	"time"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/archive"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/spf13/cobra"
)

var (
	redisAddr     string
	redisPassword string
	redisDB       int
	redisTTL      time.Duration
)

// redisCmd publishes cached tiles for other tile cache instances to read
var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Publish the cached tiles of a source to Redis",
	RunE:  redisRunE,
}

func redisRunE(cmd *cobra.Command, args []string) error {
	l := newLogger()
	defer l.Sync()

	store, err := openCache(l)
	if err != nil {
		return err
	}

	a, err := archive.NewRedisArchive(archive.RedisConfig{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	count := 0
	err = store.Walk(source, func(k tile.Key, c *cache.Container) error {
		if !inZoomRange(k.Zoom) || len(c.Payload) == 0 {
			return nil
		}
		if err := a.Publish(cmd.Context(), k, c.Payload, redisTTL); err != nil {
			return fmt.Errorf("failed to publish %s: %w", k, err)
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "published %d tiles to %s\n", count, redisAddr)
	return nil
}

func init() {
	rootCmd.AddCommand(redisCmd)

	redisCmd.Flags().StringVar(&redisAddr, "addr", "localhost:6379", "Redis address")
	redisCmd.Flags().StringVar(&redisPassword, "password", "", "Redis password")
	redisCmd.Flags().IntVar(&redisDB, "db", 0, "Redis database")
	redisCmd.Flags().DurationVar(&redisTTL, "ttl", 0, "Expiry of published tiles, 0 keeps them")
}
