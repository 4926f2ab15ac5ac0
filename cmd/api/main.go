package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"curricula/api/internal/app"
	"curricula/api/internal/cache"
	"curricula/api/internal/config"
	"curricula/api/internal/email"
	"curricula/api/internal/search"
	"curricula/api/internal/snapshot"
	"curricula/api/internal/store"
)

const demoCourseID = "demo-course"

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var contentStore app.ContentStore
	switch cfg.StoreBackend {
	case "memory":
		log.Printf("Using in-memory content store with course %s", demoCourseID)
		mem := store.NewMemoryStore()
		mem.AddCourse(demoCourseID)
		contentStore = mem
	default:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		contentStore = store.NewPostgresStore(db)
	}

	var reviews app.SummaryCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for review summaries")
		reviewCache, err := cache.NewReviewCache(cfg.RedisURL, cfg.ReviewCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer reviewCache.Close()
		reviews = reviewCache
	}

	var backend search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		backend = meiliClient
	}

	service := app.New(cfg, contentStore, reviews, search.NewService(backend))

	mailer := email.NewService(email.Config{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		From:      cfg.SMTPFrom,
		FromName:  cfg.SMTPFromName,
		Reviewers: cfg.ReviewNotifyTo,
	})
	if mailer.IsConfigured() {
		log.Printf("Review notifications go to %d address(es) via %s", len(cfg.ReviewNotifyTo), cfg.SMTPHost)
		service.SetNotifier(mailer)
	}
	if cfg.StoreBackend == "memory" {
		if err := service.Bootstrap(ctx, demoCourseID, demoCurriculum()); err != nil {
			log.Printf("WARNING: bootstrap error: %v", err)
		}
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Curriculum API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func demoCurriculum() snapshot.Snapshot {
	text := func(v string) *string { return &v }
	return snapshot.Snapshot{Modules: []snapshot.Module{
		{Title: "Getting started", Lessons: []snapshot.Lesson{
			{Title: "Welcome", ContentType: snapshot.ContentText, ContentBody: text("What this course covers and how it is graded.")},
			{Title: "Environment setup", ContentType: snapshot.ContentVideo, ContentBody: text("https://videos.example.com/setup")},
		}},
		{Title: "Fundamentals", Lessons: []snapshot.Lesson{
			{Title: "Core concepts", ContentType: snapshot.ContentText, ContentBody: text("Modules group lessons; lessons carry content.")},
			{Title: "Reference sheet", ContentType: snapshot.ContentFile, ContentBody: text("https://files.example.com/reference.pdf")},
		}},
	}}
}
