package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/doctriage/doctriage/internal/backend"
	"github.com/doctriage/doctriage/internal/backend/llmocr"
	"github.com/doctriage/doctriage/internal/backend/tesseract"
	"github.com/doctriage/doctriage/internal/classify"
	"github.com/doctriage/doctriage/internal/common"
	"github.com/doctriage/doctriage/internal/document"
	"github.com/doctriage/doctriage/internal/jobs"
	"github.com/doctriage/doctriage/internal/process"
	"github.com/doctriage/doctriage/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	source := document.NewPDFSource()

	var primary backend.OCRBackend
	if cfg.LLM.APIKey != "" {
		primary = llmocr.New(llmocr.Config{
			APIKey:       cfg.LLM.APIKey,
			Model:        cfg.LLM.Model,
			UploadURL:    cfg.LLM.UploadURL,
			AssistantURL: cfg.LLM.AssistantURL,
			Temperature:  cfg.LLM.Temperature,
			Timeout:      cfg.LLM.Timeout,
		}, source, logger)
		logger.Info("llm ocr backend configured", "model", cfg.LLM.Model)
	} else {
		logger.Warn("LANGDOCK_API_KEY not set, llm ocr disabled")
	}

	fallback := tesseract.New(tesseract.Config{
		Tesseract:   cfg.Tesseract.Tesseract,
		Pdftoppm:    cfg.Tesseract.Pdftoppm,
		Lang:        cfg.Tesseract.Lang,
		DPI:         cfg.Tesseract.DPI,
		TessdataDir: cfg.Tesseract.TessdataDir,
		PSM:         cfg.Tesseract.PSM,
		OEM:         cfg.Tesseract.OEM,
	}, logger)
	logger.Info("tesseract backend configured", "available", fallback.IsAvailable())

	detector := classify.NewDetector(source, classify.Config{}, logger)
	processor := process.NewProcessor(primary, fallback, detector, source, process.Config{
		TextThreshold:       cfg.Processor.TextThreshold,
		EnableTwoPass:       cfg.Processor.EnableTwoPass,
		ConfidenceThreshold: cfg.Processor.ConfidenceThreshold,
		FallbackOnError:     cfg.Processor.FallbackOnError,
		IncludePageMarkers:  cfg.Processor.IncludePageMarkers,
	}, logger)

	store, err := jobs.OpenStore(ctx, cfg.Jobs, logger)
	if err != nil {
		logger.Error("opening job store", "driver", cfg.Jobs.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	worker := jobs.NewWorker(store, processor, logger)

	srv, err := server.New(processor, store, worker, primary, fallback, cfg.Server, logger)
	if err != nil {
		logger.Error("building server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http serving", "addr", cfg.Server.Addr, "jobs_driver", cfg.Jobs.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("stopped")
}
