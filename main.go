package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"kolab/config/database"
	"kolab/internal/lock"
	"kolab/internal/resource/repository"
	"kolab/pkg/logger"
	"kolab/router"
	"kolab/socket"
)

func main() {
	logger.Init()
	defer logger.Log.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}

	db := database.Connect()
	defer db.Close()

	lockTTL := lock.DefaultTTL
	if v := strings.TrimSpace(os.Getenv("KOLAB_LOCK_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			lockTTL = d
		} else {
			logger.Sugar.Warnf("Invalid KOLAB_LOCK_TTL %q, using default: %v", v, err)
		}
	}

	repo := repository.NewResourceRepository(db)
	hub := socket.NewHub(repo, lock.NewManager(lock.WithTTL(lockTTL)))
	go hub.Run()
	go hub.SweepWorker(30 * time.Second)

	addr := strings.TrimSpace(os.Getenv("KOLAB_LISTEN_ADDR"))
	if addr == "" {
		addr = ":8080"
	}

	logger.Sugar.Infof("Coordination layer listening on %s", addr)
	if err := http.ListenAndServe(addr, router.Setup(db, hub)); err != nil {
		logger.Sugar.Fatalf("Server exited: %v", err)
	}
}
