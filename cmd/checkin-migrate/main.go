package main

import (
	"context"
	"database/sql"
	"flag"
	"log"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-checkin/internal/config"
	"ms-checkin/internal/database/migrations"
	"ms-checkin/internal/models"
	"ms-checkin/internal/tickets/db"
)

func main() {
	_ = godotenv.Load() // Loads .env file if present
	cfg := config.Load()

	dbPath := flag.String("db", cfg.Database.Path, "path of the device database")
	action := flag.String("action", "up", "up, down, version or seed")
	eventID := flag.String("event", "event001", "event id used by -action seed")
	flag.Parse()

	ctx := context.Background()

	sqldb, err := sql.Open(sqliteshim.ShimName, *dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())

	switch *action {
	case "up":
		log.Println("Applying migrations...")
		if err := runner.MigrateUp(); err != nil {
			log.Fatalf("❌ %v", err)
		}
	case "down":
		log.Println("Rolling back migrations...")
		if err := runner.MigrateDown(); err != nil {
			log.Fatalf("❌ %v", err)
		}
	case "version":
		version, err := runner.Version()
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		log.Printf("Schema version: %d", version)
		return
	case "seed":
		if err := runner.MigrateUp(); err != nil {
			log.Fatalf("❌ %v", err)
		}
		log.Println("Seeding sample data...")
		if err := seedData(ctx, db.New(bunDB), *eventID); err != nil {
			log.Fatalf("❌ Failed to seed: %v", err)
		}
	default:
		log.Fatalf("unknown action %q", *action)
	}

	log.Println("✅ Done.")
}

// seedData loads a small guest list covering each admission shape.
func seedData(ctx context.Context, store *db.DB, eventID string) error {
	guests := []models.Ticket{
		{QRCode: "SEED-SINGLE", GuestID: "guest001", TicketID: "ticket001", GuestName: "Alice Wonderland", TotalEntries: 1},
		{QRCode: "SEED-FAMILY", GuestID: "guest002", TicketID: "ticket002", GuestName: "Bob Builder", TotalEntries: 4},
		{
			QRCode: "SEED-VIP", GuestID: "guest003", TicketID: "ticket003", GuestName: "Carol Danvers", TotalEntries: 1,
			Facilities: []models.Facility{
				{FacilityID: "lounge", Name: "VIP Lounge", AvailableScans: 1},
				{FacilityID: "drinks", Name: "Drink Voucher", AvailableScans: 3},
			},
		},
	}
	n, err := store.ImportTickets(ctx, eventID, guests)
	if err != nil {
		return err
	}
	log.Printf("Seeded %d tickets for event %s", n, eventID)
	return nil
}
