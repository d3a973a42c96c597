package main

import (
	"context"
	"crypto/rand"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/adapters/executor"
	"github.com/voicedesk/voicedesk/adapters/interpreter"
	mongoadapter "github.com/voicedesk/voicedesk/adapters/mongo"
	"github.com/voicedesk/voicedesk/adapters/stt"
	"github.com/voicedesk/voicedesk/domain/repositories"
	"github.com/voicedesk/voicedesk/internal/admission"
	"github.com/voicedesk/voicedesk/internal/agent"
	"github.com/voicedesk/voicedesk/internal/auth"
	"github.com/voicedesk/voicedesk/internal/config"
	"github.com/voicedesk/voicedesk/internal/discovery"
	"github.com/voicedesk/voicedesk/internal/pairing"
)

func main() {
	configPath := flag.String("config", "agent.yaml", "path to the agent configuration file")
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.Server.HostID == "" {
		cfg.Server.HostID = uuid.NewString()
	}

	// Host identity: self-signed certificate the devices pin during pairing.
	identity, err := pairing.GenerateIdentity(cfg.Server.HostName, localIPs())
	if err != nil {
		logger.Fatal("Failed to generate host identity", zap.Error(err))
	}
	logger.Info("Host identity ready",
		zap.String("hostID", cfg.Server.HostID),
		zap.String("fingerprint", identity.Fingerprint))

	issuer := auth.NewTokenIssuer(authSecret(logger))

	// Pairing store
	var repo repositories.PairingRepository
	switch cfg.PairingStore {
	case "mongo":
		client, err := mongoadapter.NewClient(mongoadapter.Options{}, logger)
		if err != nil {
			logger.Fatal("Failed to connect pairing store", zap.Error(err))
		}
		defer client.Close(context.Background())
		repo = mongoadapter.NewPairingRepository(client.Database)
	default:
		repo = pairing.NewMemoryRepository()
	}

	pairingService := pairing.NewService(cfg.Pairing, repo, issuer, identity.Fingerprint, logger)
	pairingService.StartSweep()
	defer pairingService.StopSweep()

	admissionController := admission.NewController(cfg.Admission, logger)
	admissionController.Start()
	defer admissionController.Stop()

	// Processing pipeline adapters
	var transcriber repositories.Transcriber
	if cfg.Transcriber == "google" {
		transcriber = stt.NewGoogleTranscriber()
	} else {
		transcriber = stt.NewMockTranscriber(logger)
	}

	var interp repositories.Interpreter
	if cfg.Interpreter == "gemini" {
		interp, err = interpreter.NewGeminiInterpreter(logger)
		if err != nil {
			logger.Fatal("Failed to create interpreter", zap.Error(err))
		}
	} else {
		interp = interpreter.NewMockInterpreter(logger)
	}

	pipeline := agent.NewPipeline(cfg.Pipeline, interp, executor.NewMockExecutor(logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := agent.NewHub(pairingService, admissionController, transcriber, pipeline, logger)
	go hub.Run(ctx)

	server := agent.NewServer(cfg.Server, identity, pairingService, admissionController, hub, logger)

	// Discovery: answer multicast queries and register over mDNS so
	// handhelds can find the agent without knowing its address.
	ann := discovery.Announcement{
		ID:         cfg.Server.HostID,
		Name:       cfg.Server.HostName,
		MACAddress: cfg.Server.MACAddress,
	}
	discoveryCfg := discovery.DefaultConfig()
	if _, port, err := net.SplitHostPort(cfg.Server.ListenAddr); err == nil {
		if p, err := net.LookupPort("tcp", port); err == nil {
			discoveryCfg.ProbePort = p
		}
	}
	responder := discovery.NewResponder(discoveryCfg, ann, logger)
	if err := responder.Start(ctx); err != nil {
		logger.Warn("Multicast discovery responder unavailable", zap.Error(err))
	}
	if cfg.EnableMDNS {
		if err := discovery.RegisterMDNS(ctx, discoveryCfg, ann, logger); err != nil {
			logger.Warn("mDNS registration failed", zap.Error(err))
		}
	}

	// Graceful shutdown
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Agent started",
		zap.String("listenAddr", cfg.Server.ListenAddr),
		zap.String("hostName", cfg.Server.HostName))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Agent is shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Agent forced to shutdown", zap.Error(err))
	}

	logger.Info("Agent exited")
}

// authSecret returns the JWT signing secret. Without AUTH_SECRET set, a
// random one is minted and tokens do not survive a restart.
func authSecret(logger *zap.Logger) []byte {
	if s := os.Getenv("AUTH_SECRET"); s != "" {
		return []byte(s)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		logger.Fatal("Failed to generate auth secret", zap.Error(err))
	}
	logger.Warn("AUTH_SECRET not set, issued tokens expire on restart")
	return secret
}

// localIPs lists the host's non-loopback IPv4 addresses for the certificate
// SANs.
func localIPs() []net.IP {
	var ips []net.IP
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			ips = append(ips, v4)
		}
	}
	return ips
}
