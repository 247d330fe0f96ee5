package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hlsvault/hlsvault/internal/blob"
	"github.com/hlsvault/hlsvault/internal/cache"
	"github.com/hlsvault/hlsvault/internal/coordinator"
	"github.com/hlsvault/hlsvault/internal/database"
	"github.com/hlsvault/hlsvault/internal/distributor"
	"github.com/hlsvault/hlsvault/internal/ffmpeg"
	internalhttp "github.com/hlsvault/hlsvault/internal/http"
	"github.com/hlsvault/hlsvault/internal/http/handlers"
	"github.com/hlsvault/hlsvault/internal/planner"
	"github.com/hlsvault/hlsvault/internal/repository"
	"github.com/hlsvault/hlsvault/internal/stream"
	"github.com/hlsvault/hlsvault/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hlsvault server",
	Long: `Start the hlsvault HTTP server.

The server provides:
- REST API for uploading and managing videos
- HLS playlist and segment delivery under /hls
- Health check endpoint and OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "host to bind to")
	serveCmd.Flags().Int("port", 8080, "port to listen on")
	serveCmd.Flags().String("database", "hlsvault.db", "database file path")
	serveCmd.Flags().String("data-dir", "./data", "data directory for scratch and cache")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if flagChanged(cmd.Flags(), "host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if flagChanged(cmd.Flags(), "port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if flagChanged(cmd.Flags(), "database") {
		cfg.Database.Path, _ = cmd.Flags().GetString("database")
	}
	if flagChanged(cmd.Flags(), "data-dir") {
		cfg.Storage.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if err := cfg.RequireAccounts(); err != nil {
		return err
	}

	logger := slog.Default()

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	videos := repository.NewVideoRepository(db.DB)
	segments := repository.NewSegmentRepository(db.DB)
	subtitles := repository.NewSubtitleRepository(db.DB)

	accounts := blob.AccountsFromConfig(cfg.Accounts)
	client := blob.NewClient(cfg.Blob, logger)

	segCache, err := cache.New(cfg.Cache, cfg.Storage.CachePath(), logger)
	if err != nil {
		return err
	}

	binaries, err := ffmpeg.ResolveBinaries(cfg.FFmpeg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	encoder, err := ffmpeg.SelectEncoder(ctx, binaries, cfg.FFmpeg.HardwareAccel, logger)
	if err != nil {
		return err
	}
	prober := ffmpeg.NewProber(binaries, logger)
	segmenter := ffmpeg.NewSegmenter(binaries, encoder, logger)
	segPlanner := planner.New(segmenter, cfg.Segment, logger)
	dist := distributor.New(client, segments, accounts, cfg.Upload, logger)

	coord, err := coordinator.New(videos, segments, subtitles,
		prober, segmenter, segPlanner, dist, segCache,
		cfg.Storage.ScratchPath(), logger)
	if err != nil {
		return err
	}
	defer coord.Close()

	if err := coord.ResumeInterrupted(ctx); err != nil {
		return fmt.Errorf("resuming interrupted ingests: %w", err)
	}
	coord.StartMaintenance()

	source := stream.New(videos, segments, subtitles, accounts, client, segCache, cfg.Cache, logger)
	defer source.Close()

	server := internalhttp.NewServer(cfg.Server, logger, version.Short())
	handlers.NewVideoHandler(videos, subtitles, coord, logger).Register(server.API())
	handlers.NewUploadHandler(coord, cfg.Storage.ScratchPath(), logger).Register(server.API(), server.Router())
	handlers.NewHLSHandler(source, server.BaseURL(), logger).Register(server.Router())
	handlers.NewSystemHandler(db, segCache, version.Short()).Register(server.API())

	logger.Info("hlsvault starting",
		slog.String("version", version.Full()),
		slog.Int("accounts", len(accounts)),
		slog.String("data_dir", cfg.Storage.DataDir))

	return server.ListenAndServe(ctx)
}
