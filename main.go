package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"zway-to-mqtt/adapters"
	"zway-to-mqtt/application"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const credentialNone = "none"

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagDebug,
	FlagMQTTHost,
	FlagMQTTPort,
	FlagMQTTClientID,
	FlagMQTTClientIDRandomize,
	FlagMQTTUsername,
	FlagMQTTPassword,
	FlagTopicPrefix,
	FlagTopicPostfixSet,
	FlagTopicPostfixStatus,
	FlagPrecision,
	FlagSensorCommands,
	FlagDevicesFile,
	FlagMetricsAddr,
}

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "zway-to-mqtt",
		Version: "v0.1.0",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			if ctx.String(FlagLogWriter.Name) == "console" {
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			} else if ctx.String(FlagLogWriter.Name) == "json" {
				logWriter = os.Stderr
			} else {
				return fmt.Errorf("invalid log writer: %s", ctx.String(FlagLogWriter.Name))
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "zway-to-mqtt").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}
			if ctx.Bool(FlagDebug.Name) {
				level = zerolog.DebugLevel
			}

			zerolog.SetGlobalLevel(level)

			return nil
		},
		Action: func(ctx *cli.Context) error {
			logger.Info().Msg("service starting...")

			appCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
			defer cancel()
			go func() {
				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

				<-c

				logger.Warn().Msg("interrupt signal received")
				cancel()
			}()

			sensorCommands, err := application.ParseSensorCommandPolicy(ctx.String(FlagSensorCommands.Name))
			if err != nil {
				return err
			}

			metrics := adapters.NewMetrics()

			registry, err := adapters.NewFileDeviceRegistry(adapters.FileDeviceRegistryParams{
				Path:    ctx.String(FlagDevicesFile.Name),
				Metrics: metrics,
				Log:     logger.With().Str("module", "device-registry").Logger(),
			})
			if err != nil {
				return err
			}

			topicPrefix := ctx.String(FlagTopicPrefix.Name)
			clientID := mqttClientID(ctx.String(FlagMQTTClientID.Name), ctx.Bool(FlagMQTTClientIDRandomize.Name))
			mqttURL := fmt.Sprintf("tcp://%s:%d", ctx.String(FlagMQTTHost.Name), ctx.Int(FlagMQTTPort.Name))

			logger.Info().Msgf("mqtt endpoint: %s as %s", mqttURL, clientID)
			mqttClient := adapters.NewMQTTClient(adapters.MQTTClientParams{
				ClientID:    clientID,
				Username:    credential(ctx.String(FlagMQTTUsername.Name)),
				Password:    credential(ctx.String(FlagMQTTPassword.Name)),
				MQTTUrl:     mqttURL,
				WillTopic:   application.ConnectedTopic(topicPrefix),
				WillPayload: application.OfflineMarker,
				Metrics:     metrics,
				Log:         logger.With().Str("module", "mqtt-client").Logger(),
			})

			bridge, err := application.NewBridge(application.BridgeParams{
				Registry:           registry,
				Client:             mqttClient,
				TopicPrefix:        topicPrefix,
				TopicPostfixSet:    ctx.String(FlagTopicPostfixSet.Name),
				TopicPostfixStatus: ctx.String(FlagTopicPostfixStatus.Name),
				Precision:          ctx.Int(FlagPrecision.Name),
				SensorCommands:     sensorCommands,
				Log:                logger.With().Str("module", "bridge").Logger(),
			})
			if err != nil {
				return err
			}

			zwayToMQTTService, err := application.NewZWayToMQTTService(application.ZWayToMQTTServiceParams{
				Bridge:     bridge,
				MQTTClient: mqttClient,
				Log:        logger.With().Str("module", "service").Logger(),
			})
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(appCtx)

			g.Go(func() error {
				return registry.Watch(gctx)
			})

			if addr := ctx.String(FlagMetricsAddr.Name); addr != "" {
				g.Go(func() error {
					return serveMetrics(gctx, addr, metrics.Handler(), logger)
				})
			}

			logger.Info().Msg("service started")
			g.Go(func() error {
				return zwayToMQTTService.Run(gctx)
			})

			if err := g.Wait(); err != nil {
				return err
			}

			logger.Info().Msg("service terminating...")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("service terminated")
	}
}

func mqttClientID(clientID string, randomize bool) string {
	if !randomize {
		return clientID
	}
	return clientID + "-" + uuid.NewString()[:6]
}

func credential(value string) string {
	if value == credentialNone {
		return ""
	}
	return value
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Msgf("metrics endpoint: http://%s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
