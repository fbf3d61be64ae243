package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/audio"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/config"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/gdrive"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/llm"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/server"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/session"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/storage"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/summary"
	"github.com/kwen1510/Smart-Classroom-Live-Transcription/internal/transcribe"
)

func main() {
	log.Println("classroom: starting")

	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	hub := server.NewHub()
	aggregator := audio.NewAggregator(cfg.AudioMaxChunks, cfg.AudioMaxBytes)
	transcriber := newTranscriber(cfg)
	summarizer := summary.New(cfg.SummaryModel, func(provider, model string) (llm.Client, error) {
		return llm.NewClient(provider, cfg.SummaryAPIKey(provider), model)
	})

	scheduler := session.NewScheduler()
	registry := session.NewRegistry(store, scheduler)
	registry.SetDefaultInterval(cfg.DefaultIntervalMS)
	pipeline := session.NewPipeline(registry, store, aggregator, transcriber, summarizer, hub, hub)
	scheduler.OnTick(pipeline.Tick)

	handler := server.Handler(&server.Deps{
		Sessions:    registry,
		Store:       store,
		Hub:         hub,
		Audio:       aggregator,
		Transcriber: transcriber,
		Summarizer:  summarizer,
	}, cfg.StaticDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	if cfg.GDriveFolderID != "" {
		backup, backupErr := gdrive.NewBackup(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if backupErr != nil {
			log.Printf("warning: gdrive backup disabled: %v", backupErr)
		} else {
			go func() {
				ticker := time.NewTicker(24 * time.Hour)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						date := time.Now().UTC().Format("2006-01-02")
						if err := backup.Upload(cfg.DBPath, date); err != nil {
							log.Printf("gdrive backup error: %v", err)
						}
					}
				}
			}()
		}
	}

	log.Printf("classroom: listening on %s", cfg.ListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("classroom: shutting down")
	cancel()

	// Stop every timer first so no tick writes while sessions are being
	// marked inactive for the restart.
	scheduler.StopAll()
	if err := store.DeactivateAll(); err != nil {
		log.Printf("warning: deactivate sessions failed: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}
}

func newTranscriber(cfg config.Config) transcribe.Service {
	switch cfg.STTProvider {
	case "deepgram":
		return transcribe.NewDeepgram(cfg.DeepgramAPIKey, cfg.STTModel)
	default:
		return transcribe.NewElevenLabs(cfg.ElevenLabsAPIKey, cfg.STTModel)
	}
}
