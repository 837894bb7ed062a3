// Command seed fills a development database with sample registry data.
package main

import (
	"context"
	"flag"
	"log"

	"mahilo/internal/config"
	"mahilo/internal/database"
	"mahilo/internal/seed"
)

func main() {
	users := flag.Int("users", 12, "number of users to create")
	friendships := flag.Int("friendships", 20, "number of friendship edges to attempt")
	groups := flag.Int("groups", 3, "number of groups to create")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Database migration failed: %v", err)
	}

	result, err := seed.Run(context.Background(), db, seed.Options{
		Users:       *users,
		Friendships: *friendships,
		Groups:      *groups,
	})
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("Seeded %d users. API keys (development only):", len(result.APIKeys))
	for username, key := range result.APIKeys {
		log.Printf("  %-30s %s", username, key)
	}
}
