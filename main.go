package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	waLog "go.mau.fi/whatsmeow/util/log"

	"whatsapp-gateway/handlers"
	"whatsapp-gateway/persistence"
	"whatsapp-gateway/publisher"
	"whatsapp-gateway/telemetry"
	"whatsapp-gateway/utils"
	"whatsapp-gateway/whatsapp"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath string
	v          = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "whatsapp-gateway",
	Short: "Gateway HTTP per un account WhatsApp",
	Long: `whatsapp-gateway mantiene una sessione WhatsApp Web, inoltra i messaggi
ricevuti ai webhook registrati e permette l'invio di messaggi via HTTP.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runGateway,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.json", "File di configurazione")
	rootCmd.Flags().Int("port", 0, "Porta HTTP (sovrascrive la configurazione)")
	rootCmd.Flags().Bool("no-qr", false, "Non stampare il QR code nel terminale")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Errore:", err)
		os.Exit(1)
	}
}

// bindFlags applica solo i flag impostati esplicitamente
func bindFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		v.Set("server.port", port)
	}
	if cmd.Flags().Changed("no-qr") {
		noQR, _ := cmd.Flags().GetBool("no-qr")
		v.Set("whatsapp.print_qr", !noQR)
	}
}

func runGateway(cmd *cobra.Command, _ []string) error {
	bindFlags(cmd)

	config, err := utils.LoadConfig(v, configPath)
	if err != nil {
		return err
	}
	if err := config.EnsureDirs(); err != nil {
		return err
	}

	logger, closeLog := utils.NewLogger(config.Log)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if config.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, config.Telemetry.Dir, logger)
		if err != nil {
			return fmt.Errorf("errore nell'inizializzazione della telemetria: %w", err)
		}
		defer shutdownTelemetry()
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		logger.Warn().Err(err).Msg("Metriche non disponibili")
		metrics = nil
	}

	media, err := persistence.NewMediaSink(config.Storage.DownloadsDir)
	if err != nil {
		return err
	}
	journal, err := persistence.OpenJournal(config.Storage.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	sessions, err := whatsapp.OpenSessionStore(config.Storage.AuthDir, waLog.Zerolog(logger.With().Str("component", "store").Logger()))
	if err != nil {
		return err
	}

	normalizer := whatsapp.NewNormalizer(media, config.WhatsApp.MediaTimeout, logger, metrics)
	manager := whatsapp.NewManager(whatsapp.ManagerOptions{
		Store:          sessions,
		NewClient:      whatsapp.NewClientFactory(waLog.Zerolog(logger.With().Str("component", "whatsmeow").Logger())),
		Normalizer:     normalizer,
		ReconnectDelay: config.WhatsApp.ReconnectDelay,
		PrintQR:        config.WhatsApp.PrintQR,
		Logger:         logger,
		Metrics:        metrics,
	})

	webhooks := handlers.NewWebhookService(config.Webhook.Timeout, logger, metrics)
	hub := handlers.NewHub(logger)

	manager.AddSink(webhooks)
	manager.AddSink(journal)
	manager.AddSink(hub)
	manager.AddStatusListener(hub)

	var broker *publisher.Publisher
	if config.AMQP.URL != "" {
		broker, err = publisher.New(config.AMQP.URL, config.AMQP.Exchange, logger)
		if err != nil {
			return err
		}
		manager.AddSink(broker)
		logger.Info().Str("exchange", config.AMQP.Exchange).Msg("Pubblicazione AMQP attiva")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(logger))
	handlers.SetupAPIRoutes(router, handlers.APIDeps{
		Status:   manager,
		Sender:   whatsapp.NewGateway(manager, logger),
		Webhooks: webhooks,
		Media:    media,
		History:  journal,
		Hub:      hub,
		Log:      logger,
	})

	server := &http.Server{
		Addr:    config.Server.Addr(),
		Handler: router,
	}

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		manager.Run(ctx)
	}()
	manager.Start()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("Server HTTP avviato")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Arresto in corso...")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("Errore del server HTTP")
			stop()
		}
	}

	return shutdown(logger, server, managerDone, webhooks, broker, hub)
}

func shutdown(logger zerolog.Logger, server *http.Server, managerDone <-chan struct{}, webhooks *handlers.WebhookService, broker *publisher.Publisher, hub *handlers.Hub) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Chiusura del server HTTP non pulita")
	}
	<-managerDone
	webhooks.Wait()
	if broker != nil {
		if err := broker.Close(); err != nil {
			logger.Warn().Err(err).Msg("Errore nella chiusura del broker")
		}
	}
	hub.Close()

	logger.Info().Msg("Gateway arrestato")
	return nil
}
