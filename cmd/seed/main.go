package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/carauction/internal/auth"
	"github.com/xtrntr/carauction/internal/config"
	"github.com/xtrntr/carauction/internal/db"
	"github.com/xtrntr/carauction/internal/deposit"
	"github.com/xtrntr/carauction/internal/lifecycle"
	"github.com/xtrntr/carauction/internal/logging"
	"github.com/xtrntr/carauction/internal/models"
	"github.com/xtrntr/carauction/internal/notify"
	"github.com/xtrntr/carauction/internal/store"
)

const seedPassword = "password123"

// Seed the database with users, an approved listing and a live auction
func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}

	ctx := context.Background()
	database, err := db.NewDB(ctx, cfg.DB.URL, cfg.DB.MaxTxRetries, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// First check if we already seeded
	if _, err := database.GetUserByUsername(ctx, "seller"); err == nil {
		fmt.Println("Database already seeded. No need to seed.")
		os.Exit(0)
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Fatalf("Failed to check users: %v", err)
	}

	authService := auth.NewAuthService(database, cfg.Auth.JWTSecret, cfg.TokenTTL())
	users := make(map[string]*models.User)
	for _, u := range []struct {
		name    string
		country string
		admin   bool
	}{
		{"admin", "NL", true},
		{"seller", "DE", false},
		{"bidder1", "IT", false},
		{"bidder2", "FR", false},
	} {
		country := u.country
		user := &models.User{ID: uuid.New(), Username: u.name, Country: &country, IsAdmin: u.admin}
		hash, err := authService.HashPassword(seedPassword)
		if err != nil {
			logger.Fatalf("Failed to hash password: %v", err)
		}
		user.PasswordHash = hash
		// Backdate accounts so seeded bidders do not trip new-account checks
		user.CreatedAt = time.Now().AddDate(0, -1, 0)
		if err := database.CreateUser(ctx, user); err != nil {
			logger.Fatalf("Failed to create user %s: %v", u.name, err)
		}
		users[u.name] = user
	}

	listing := &models.Listing{
		ID:            uuid.New(),
		SellerID:      users["seller"].ID,
		Title:         "1995 Porsche 993 Carrera",
		Status:        models.ListingApproved,
		StartingPrice: decimal.NewFromInt(45000),
		ReservePrice:  decimal.NewNullDecimal(decimal.NewFromInt(60000)),
		Currency:      cfg.Auction.DefaultCurrency,
		CreatedAt:     time.Now(),
	}
	if err := database.CreateListing(ctx, listing); err != nil {
		logger.Fatalf("Failed to create listing: %v", err)
	}

	manager := lifecycle.NewManager(database, cfg.Rules(), notify.LogSink{Logger: logger}, logger)
	auction, err := manager.CreateAuction(ctx, listing.ID, time.Now(), 7)
	if err != nil {
		logger.Fatalf("Failed to create auction: %v", err)
	}

	gate := deposit.NewGate(database, true)
	for _, name := range []string{"bidder1", "bidder2"} {
		if _, err := gate.Hold(ctx, users[name].ID, auction.ID, decimal.NewFromInt(1000)); err != nil {
			logger.Fatalf("Failed to hold deposit for %s: %v", name, err)
		}
	}

	fmt.Printf("Seeded auction %s (listing %q); users admin, seller, bidder1, bidder2 with password %q\n",
		auction.ID, listing.Title, seedPassword)
}
