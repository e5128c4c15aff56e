package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"firemap.org/internal/auth"
	"firemap.org/internal/config"
	"firemap.org/internal/httpapi"
	"firemap.org/internal/mail"
	"firemap.org/internal/obs"
	"firemap.org/internal/session"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("FIREMAP_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})

	sessions := session.NewManager(session.NewRedisKV(rdb),
		session.WithTTL(cfg.SessionTTL),
		session.WithTempTTL(cfg.TempSessionTTL))

	var store auth.Store
	if db != nil {
		store = auth.NewPGStore(db)
	} else {
		log.Print("no FIREMAP_PG_DSN set, using in-memory store")
		store = auth.NewMemoryStore()
	}

	mailer := mail.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.MailFrom, cfg.SMTPUser, cfg.SMTPPass)
	svc := auth.NewService(store, sessions, mailer, []byte(cfg.HMACSecret),
		auth.WithFrontendURL(cfg.FrontendURL))
	twofa := auth.NewTwoFactor(store, sessions, "Fire Map")

	if err := bootstrapAdmin(context.Background(), store, cfg); err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Version:           version,
		SessionCookie:     cfg.SessionCookie,
		TempSessionCookie: cfg.TempSessionCookie,
		SecureCookies:     true,
	}, store, svc, twofa, sessions, httpapi.ReadyProbe{
		DB:   db,
		Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting firemap-api %s on %s", version, srv.Addr)

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
	_ = rdb.Close()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// bootstrapAdmin creates the first administrator account when the users
// table is empty and both bootstrap settings are present.
func bootstrapAdmin(ctx context.Context, store auth.Store, cfg config.Config) error {
	if cfg.InitialAdminEmail == "" || cfg.InitialAdminPassword == "" {
		return nil
	}
	count, err := store.Users(ctx).Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := auth.HashPassword(cfg.InitialAdminPassword)
	if err != nil {
		return err
	}
	admin := &auth.User{
		Email:        cfg.InitialAdminEmail,
		FirstName:    "Admin",
		LastName:     "Admin",
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
	}
	err = store.Users(ctx).Create(ctx, admin)
	if err != nil && !errors.Is(err, auth.ErrConflict) {
		return err
	}
	if err == nil {
		log.Printf("created initial admin %s", cfg.InitialAdminEmail)
	}
	return nil
}
