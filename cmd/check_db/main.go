package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/Anurag-006/SketchSaga/internal/config"
	"github.com/Anurag-006/SketchSaga/internal/database"
)

// 드로잉 테이블과 upsert용 unique index 상태를 점검한다.
func main() {
	migrate := flag.Bool("migrate", false, "run AutoMigrate before checking")
	flag.Parse()

	cfg := config.LoadDatabase()
	if cfg.Driver == "memory" {
		log.Fatal("DB_DRIVER=memory has no schema to check")
	}

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer database.Close(db)

	fmt.Println("✅ Connected to database")
	fmt.Println()

	if *migrate {
		if err := database.Migrate(db); err != nil {
			log.Fatal("Migration failed:", err)
		}
		fmt.Println("✅ Migration finished")
		fmt.Println()
	}

	allPresent := true
	fmt.Println("📊 Tables:")
	for _, table := range []string{"rooms", "chats", "shapes"} {
		if !db.Migrator().HasTable(table) {
			fmt.Printf("  - %s: ❌ missing\n", table)
			allPresent = false
			continue
		}
		var count int64
		if err := db.Table(table).Count(&count).Error; err != nil {
			log.Fatalf("Failed to count %s: %v", table, err)
		}
		fmt.Printf("  - %s: %d rows\n", table, count)
	}
	fmt.Println()

	if !allPresent {
		fmt.Println("⚠️  Run with -migrate to create the missing tables")
		return
	}

	var indexed bool
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM pg_indexes
			WHERE tablename = 'shapes'
			AND indexname = 'idx_shapes_room_uid'
		)
	`
	if err := db.Raw(query).Scan(&indexed).Error; err != nil {
		log.Fatal("Failed to check shape index:", err)
	}
	if !indexed {
		fmt.Println("❌ idx_shapes_room_uid does NOT exist!")
		fmt.Println("⚠️  Shape upserts need it; run with -migrate")
		return
	}
	fmt.Println("📋 idx_shapes_room_uid present")
	fmt.Println()

	// 도형이 많은 방
	type RoomStats struct {
		RoomID int64
		Slug   string
		Shapes int64
	}
	var busiest []RoomStats
	query = `
		SELECT r.id AS room_id, r.slug, COUNT(s.id) AS shapes
		FROM rooms r
		LEFT JOIN shapes s ON s.room_id = r.id
		GROUP BY r.id, r.slug
		ORDER BY shapes DESC
		LIMIT 10
	`
	if err := db.Raw(query).Scan(&busiest).Error; err != nil {
		log.Fatal("Failed to get room statistics:", err)
	}

	fmt.Println("🎨 Busiest Rooms (top 10):")
	for _, r := range busiest {
		fmt.Printf("  - ID: %d, Slug: %s, Shapes: %d\n", r.RoomID, r.Slug, r.Shapes)
	}
}
