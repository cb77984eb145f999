package database

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"kolab/pkg/logger"

	_ "github.com/lib/pq"
)

// Connect opens the resource store connection and verifies it with a few
// ping retries to ride out temporary DNS/network blips.
func Connect() *sql.DB {
	dbUser := strings.TrimSpace(os.Getenv("KOLAB_DB_USER"))
	dbPass := strings.TrimSpace(os.Getenv("KOLAB_DB_PASSWORD"))
	dbHost := strings.TrimSpace(os.Getenv("KOLAB_DB_HOST"))
	dbPort := strings.TrimSpace(os.Getenv("KOLAB_DB_PORT"))
	dbName := strings.TrimSpace(os.Getenv("KOLAB_DB_NAME"))

	sslMode := strings.TrimSpace(os.Getenv("KOLAB_DB_SSLMODE"))
	if sslMode == "" {
		sslMode = "require"
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", dbUser, dbPass, dbHost, dbPort, dbName, sslMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		logger.Sugar.Fatalf("Failed to open database connection: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err = db.Ping(); err == nil {
			logger.Sugar.Info("Successfully connected to the resource store")
			return db
		}
		logger.Sugar.Infof("Database connection failed, retrying in 2s... (%v)", err)
		time.Sleep(2 * time.Second)
	}
	logger.Sugar.Fatal("Could not connect to the resource store after retries.")
	return nil
}
