package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"wisefido-envsensor/internal/classifier"
	"wisefido-envsensor/internal/common/logger"
	"wisefido-envsensor/internal/config"
	"wisefido-envsensor/internal/export"
	httpapi "wisefido-envsensor/internal/httpapi"
	"wisefido-envsensor/internal/models"
	"wisefido-envsensor/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wisefido-envsensor",
		Short:         "BLE environmental sensor ingestion and query service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newExportCmd())
	return root
}

func loadLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-envsensor")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the sensor node and serve the query API",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, log, err := loadLogger()
			if err != nil {
				return err
			}
			defer log.Sync()
			return serve(cfg, log)
		},
	}
}

func serve(cfg *config.Config, log *zap.Logger) error {
	svc, err := service.NewEnvSensorService(cfg, log)
	if err != nil {
		log.Error("Failed to create envsensor service", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Error("Failed to start envsensor service", zap.Error(err))
		return err
	}

	router := httpapi.NewRouter(svc.Metrics(), log)
	router.RegisterSensorRoutes(httpapi.NewSensorHandler(svc.Query(), svc, log))
	router.RegisterMetrics()
	srv := service.NewServer(cfg.HTTP.Addr, router.Handler(cfg.HTTP.CORSOrigins), log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info("wisefido-envsensor started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-sigCh:
		log.Info("Shutting down wisefido-envsensor...")
	case serveErr = <-errCh:
		log.Error("HTTP server exited", zap.Error(serveErr))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping HTTP server", zap.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping service", zap.Error(err))
	}

	log.Info("wisefido-envsensor stopped")
	return serveErr
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <metric> <value>",
		Short: "Print the band and comfort score of a metric value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[1], err)
			}
			metric, err := models.ParseMetric(args[0])
			if err != nil {
				return err
			}
			score, err := classifier.Classify(metric, value)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s=%g band=%s color=%s score=%d\n",
				score.Metric, score.Value, score.BandLabel, score.BandColor, score.ComfortBucket)
			return err
		},
	}
}

func newExportCmd() *cobra.Command {
	var format, out string
	var limit int

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export persisted readings to CSV or XLSX",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, log, err := loadLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			// 只读远端快照，不启动链路与轮询
			cfg.Link.Enabled = false
			cfg.Poll.Enabled = false
			cfg.Cache.Enabled = false
			cfg.Sinks.MQTT.Enabled = false
			cfg.Sinks.Kafka.Enabled = false
			cfg.Sinks.Influx.Enabled = false
			cfg.Store.Capacity = limit

			svc, err := service.NewEnvSensorService(cfg, log)
			if err != nil {
				return err
			}
			defer svc.Stop(context.Background())

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := svc.Refresh(ctx, limit); err != nil {
				return err
			}
			return writeExport(svc.Readings(), format, out)
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "output format: csv or xlsx")
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout for csv)")
	cmd.Flags().IntVar(&limit, "limit", 100, "number of most recent readings")
	return cmd
}

func writeExport(readings []models.Reading, format, out string) error {
	switch format {
	case "csv":
		if out == "" {
			return export.WriteCSV(os.Stdout, readings)
		}
		return writeCSVFile(out, readings)
	case "xlsx":
		if out == "" {
			return fmt.Errorf("--out is required for xlsx")
		}
		data, err := export.GenerateXLSX(readings)
		if err != nil {
			return err
		}
		return os.WriteFile(out, data, 0o644)
	}
	return fmt.Errorf("unknown format %q", format)
}

// writeCSVFile 写入 CSV 文件；关闭失败（未刷盘）同样返回错误
func writeCSVFile(path string, readings []models.Reading) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return export.WriteCSV(f, readings)
}
