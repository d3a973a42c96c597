package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/entities"
	"github.com/voicedesk/voicedesk/internal/capture"
	"github.com/voicedesk/voicedesk/internal/codec"
	"github.com/voicedesk/voicedesk/internal/config"
	"github.com/voicedesk/voicedesk/internal/discovery"
	"github.com/voicedesk/voicedesk/internal/protocol"
	"github.com/voicedesk/voicedesk/internal/session"
	"github.com/voicedesk/voicedesk/internal/transport"
)

func main() {
	configPath := flag.String("config", "client.yaml", "path to the client configuration file")
	discover := flag.String("discover", "", "run discovery and list hosts ('only' to exit after)")
	wakeMAC := flag.String("wake", "", "send a wake-on-LAN packet to the given MAC and exit")
	forcePair := flag.Bool("pair", false, "run the pairing flow even if credentials exist")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	disco := discovery.NewService(cfg.Discovery, logger)

	if *wakeMAC != "" {
		if err := disco.Wake(*wakeMAC); err != nil {
			logger.Fatal("Wake failed", zap.Error(err))
		}
		fmt.Println("Wake packet sent; delivery is not confirmed.")
		return
	}

	hostAddr := ""
	if *discover != "" || cfg.HostURL == "" {
		hosts := disco.Discover(ctx)
		for _, h := range hosts {
			fmt.Printf("  %s  %s  (%s)\n", h.IPAddress, h.Name, h.ID)
		}
		if *discover == "only" {
			return
		}
		if len(hosts) == 0 && cfg.HostURL == "" {
			logger.Fatal("No hosts found and no host_url configured")
		}
		if len(hosts) > 0 {
			hostAddr = fmt.Sprintf("%s:%d", hosts[0].IPAddress, cfg.Discovery.ProbePort)
		}
	}

	wsURL := cfg.HostURL
	if wsURL == "" {
		wsURL = "wss://" + hostAddr + "/ws"
	}
	baseURL := "https://" + strings.TrimSuffix(strings.TrimPrefix(wsURL, "wss://"), "/ws")

	creds, err := loadCredentials(cfg.CredentialsFile)
	if err != nil {
		logger.Fatal("Failed to load credentials", zap.Error(err))
	}
	if creds == nil || *forcePair || time.Now().After(creds.TokenExpiresAt) {
		fmt.Println("Pairing with", baseURL)
		creds, err = pair(ctx, baseURL, cfg.DeviceLabel, promptCode)
		if err != nil {
			logger.Fatal("Pairing failed", zap.Error(err))
		}
		creds.HostURL = wsURL
		if err := saveCredentials(cfg.CredentialsFile, creds); err != nil {
			logger.Fatal("Failed to save credentials", zap.Error(err))
		}
		fmt.Println("Paired.")
	}
	if creds.HostURL != "" {
		wsURL = creds.HostURL
	}

	tcreds, err := transportCredentials(creds, cfg.DeviceLabel)
	if err != nil {
		logger.Fatal("Invalid stored credentials, re-pair with -pair", zap.Error(err))
	}

	manager := transport.NewManager(cfg.Transport, wsURL, tcreds, logger)

	encoder, err := codec.NewEncoder()
	if err != nil {
		logger.Fatal("Failed to create encoder", zap.Error(err))
	}

	device := capture.NewMalgoDevice(logger)
	detector := capture.NewDetector(cfg.Capture.VADThreshold, cfg.Capture.HangoverWindows)
	unit := capture.NewUnit(device, detector, logger)

	sess := session.NewSession(cfg.Session, manager, unit, encoder, logger)

	// Route host replies into the session; queue standing is printed here
	// since it concerns the connection, not a command.
	for _, t := range []protocol.MessageType{
		protocol.MessageTypeProcessingStatus,
		protocol.MessageTypeTranscriptionComplete,
		protocol.MessageTypeActionInterpretation,
		protocol.MessageTypeConfirmationRequired,
		protocol.MessageTypeCommandComplete,
		protocol.MessageTypeCommandError,
	} {
		manager.Handle(t, sess.HandleMessage)
	}
	manager.Handle(protocol.MessageTypeQueuePosition, func(msg interface{}) {
		if qp, ok := msg.(*protocol.QueuePositionMessage); ok {
			wait := time.Duration(qp.EstimatedWaitMs) * time.Millisecond
			fmt.Printf("Host busy, queued at position %d (about %s)\n", qp.Position, wait)
		}
	})
	manager.Handle(protocol.MessageTypeSlotAvailable, func(msg interface{}) {
		fmt.Println("Host slot available, connecting...")
	})

	runErr := make(chan error, 1)
	go func() { runErr <- manager.Run(ctx) }()

	go printConnectionState(manager)
	go drainLevels(sess)

	fmt.Println("Press Enter to speak a command, y/n to answer confirmations, q to quit.")
	interact(ctx, cancel, sess, runErr)

	logger.Info("Client exited")
}

// interact runs the console loop until quit, transport failure, or signal.
func interact(ctx context.Context, cancel context.CancelFunc, sess *session.Session, runErr <-chan error) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	var pendingPrompt *session.Prompt
	listening := false

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-runErr:
			if err != nil {
				fmt.Println("Connection lost:", err)
			}
			cancel()
			return

		case update := <-sess.Updates():
			switch {
			case update.Err != nil:
				fmt.Printf("Error: %s", update.Err.Message)
				if update.Err.Retryable {
					fmt.Print(" (try again)")
				}
				fmt.Println()
				listening = false
			case update.Status == entities.CommandStatusListening:
				fmt.Println("Listening...")
				listening = true
			default:
				if update.Message != "" {
					fmt.Println(update.Message)
				}
				if update.Status == entities.CommandStatusCompleted || update.Status == entities.CommandStatusError {
					listening = false
				}
			}

		case prompt := <-sess.Prompts():
			p := prompt
			pendingPrompt = &p
			fmt.Printf("%s [y/n]: ", prompt.Text)

		case line, ok := <-lines:
			if !ok {
				cancel()
				return
			}
			switch {
			case line == "q":
				cancel()
				return
			case pendingPrompt != nil && (line == "y" || line == "n"):
				_ = sess.Confirm(pendingPrompt.CommandID, line == "y")
				pendingPrompt = nil
			case line == "" && listening:
				sess.Stop()
			case line == "":
				if _, err := sess.Start(ctx); err != nil {
					fmt.Println("Cannot start:", err)
				}
			}
		}
	}
}

func printConnectionState(manager *transport.Manager) {
	for conn := range manager.StateChanges() {
		switch conn.State {
		case entities.ConnectionStateAuthenticated:
			fmt.Println("Connected.")
		case entities.ConnectionStateReconnecting:
			fmt.Println("Connection dropped, reconnecting...")
		}
	}
}

// drainLevels consumes the metering stream; a graphical client would render
// it.
func drainLevels(sess *session.Session) {
	for range sess.Levels() {
	}
}

func promptCode() (string, error) {
	fmt.Print("Enter the 6-digit code shown on the host: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "", fmt.Errorf("no code entered")
	}
	return strings.TrimSpace(scanner.Text()), nil
}
