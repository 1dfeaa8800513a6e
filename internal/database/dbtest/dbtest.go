// Package dbtest boots a throwaway embedded PostgreSQL for DB-backed
// tests. Each call gets its own data directory and port, so packages can
// run their suites in parallel.
package dbtest

import (
	"fmt"
	"net"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/transhub/mclocal/internal/database"
	"github.com/transhub/mclocal/internal/models"
)

// Open starts an embedded PostgreSQL, migrates the full schema and
// returns a connected handle. Everything is torn down via t.Cleanup.
// Skipped under -short.
func Open(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	port, err := freePort()
	if err != nil {
		t.Fatalf("no free port for embedded postgres: %v", err)
	}

	embedded := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		DataPath(t.TempDir()).
		RuntimePath(t.TempDir()).
		Port(uint32(port)).
		Database("mclocal_test").
		Username("postgres").
		Password("postgres").
		StartTimeout(60 * time.Second))

	if err := embedded.Start(); err != nil {
		t.Fatalf("failed to start embedded postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := embedded.Stop(); err != nil {
			t.Logf("embedded postgres stop: %v", err)
		}
	})

	dsn := fmt.Sprintf(
		"host=localhost port=%d user=postgres password=postgres dbname=mclocal_test sslmode=disable",
		port,
	)
	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		t.Fatalf("failed to connect to embedded postgres: %v", err)
	}

	db := database.Open(gormDB)
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed to migrate test schema: %v", err)
	}
	return db
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
