package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"workpapers.org/internal/auth"
	"workpapers.org/internal/httpapi"
	"workpapers.org/internal/obs"
	"workpapers.org/internal/store/pg"
	"workpapers.org/internal/workflow"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		store     workflow.Store
		userStore auth.UserStore
		pgStore   *pg.Store
	)
	if dsn := os.Getenv("WORKPAPERS_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		userStore = auth.NewPGUserStore(pgStore.DB())
	} else {
		log.Println("WORKPAPERS_PG_DSN not set, using in-memory stores")
		store = workflow.NewInMemory()
		userStore = auth.NewInMemoryUsers()
	}

	users, err := auth.NewUserService(userStore)
	if err != nil {
		log.Fatalf("user service: %v", err)
	}
	flow, err := workflow.NewService(store)
	if err != nil {
		log.Fatalf("workflow service: %v", err)
	}

	bootstrapAdmin(users)

	rp := httpapi.ReadyProbe{}
	if pgStore != nil {
		rp.DB = pgStore.DB()
	}
	api := httpapi.New(rp, version, users, flow)

	handler := api.Handler()
	handler = httpapi.Logging(handler)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.RateLimit(handler, 50, 25)
	handler = httpapi.CORS(handler)
	handler = httpapi.SecurityHeaders(handler)

	addr := os.Getenv("WORKPAPERS_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting workpapers-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

// bootstrapAdmin creates the initial administrator from the environment so
// a fresh deployment has a way in. Existing accounts are left alone.
func bootstrapAdmin(users *auth.UserService) {
	email := os.Getenv("WORKPAPERS_ADMIN_EMAIL")
	password := os.Getenv("WORKPAPERS_ADMIN_PASSWORD")
	if email == "" || password == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := users.Register(ctx, email, "Administrator", password, "admin", true)
	if err != nil {
		if errors.Is(err, auth.ErrConflict) {
			return
		}
		log.Fatalf("bootstrap admin: %v", err)
	}
	log.Printf("bootstrap admin %s created", email)
}
