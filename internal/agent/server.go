package agent

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/entities"
	"github.com/voicedesk/voicedesk/internal/admission"
	"github.com/voicedesk/voicedesk/internal/discovery"
	"github.com/voicedesk/voicedesk/internal/pairing"
)

// ServerConfig holds the agent's HTTP surface settings and the identity it
// announces to discovery probes.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HostID     string `yaml:"host_id"`
	HostName   string `yaml:"host_name"`
	MACAddress string `yaml:"mac_address"`
}

// Server is the agent's HTTP/WebSocket surface: the health endpoint doubles
// as the discovery probe target, pairing REST, and the device websocket.
type Server struct {
	echo      *echo.Echo
	cfg       ServerConfig
	identity  *pairing.Identity
	pairing   *pairing.Service
	admission *admission.Controller
	logger    *zap.Logger
}

// NewServer wires the agent routes onto a fresh Echo instance.
func NewServer(
	cfg ServerConfig,
	identity *pairing.Identity,
	pairingService *pairing.Service,
	admissionController *admission.Controller,
	hub *Hub,
	logger *zap.Logger,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		cfg:       cfg,
		identity:  identity,
		pairing:   pairingService,
		admission: admissionController,
		logger:    logger,
	}

	e.GET("/healthz", s.healthz)

	v1 := e.Group("/api/v1")
	v1.POST("/pairing", s.initiatePairing)
	v1.POST("/pairing/:id/confirm", s.confirmPairing)
	v1.DELETE("/pairing/:id", s.cancelPairing)
	v1.GET("/status", s.status)

	e.GET("/ws", hub.HandleConnection)
	return s
}

// Start serves TLS with the host's pairing-issued certificate. Devices pin
// its fingerprint instead of running chain verification.
func (s *Server) Start() error {
	server := &http.Server{
		Addr: s.cfg.ListenAddr,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{s.identity.Certificate},
			// Request, not require: health probes and the pairing REST
			// calls arrive without a certificate. The websocket auth gate
			// rejects device connections whose certificate fingerprint
			// does not match the paired one.
			ClientAuth: tls.RequestClientCert,
		},
	}
	err := s.echo.StartServer(server)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP surface gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// healthz answers discovery probes with the host's announcement.
func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, discovery.Announcement{
		ID:         s.cfg.HostID,
		Name:       s.cfg.HostName,
		MACAddress: s.cfg.MACAddress,
	})
}

type initiatePairingRequest struct {
	DeviceFingerprint string `json:"device_fingerprint"`
}

type initiatePairingResponse struct {
	PairingID string `json:"pairing_id"`
	ExpiresAt string `json:"expires_at"`
}

// initiatePairing starts a pairing. The 6-digit code is shown on the host
// console, never returned to the requesting device.
func (s *Server) initiatePairing(c echo.Context) error {
	var req initiatePairingRequest
	if err := c.Bind(&req); err != nil || req.DeviceFingerprint == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":   "invalid_request",
			"message": "device_fingerprint is required",
		})
	}

	p, err := s.pairing.Initiate(c.Request().Context(), req.DeviceFingerprint)
	if err != nil {
		s.logger.Error("Failed to initiate pairing", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error":   "pairing_failed",
			"message": "Could not start pairing",
		})
	}

	// The code travels out-of-band: the operator reads it off the host.
	s.logger.Info("PAIRING CODE",
		zap.String("code", p.PairingCode),
		zap.String("pairingID", p.PairingID),
		zap.Time("expiresAt", p.ExpiresAt))

	return c.JSON(http.StatusOK, initiatePairingResponse{
		PairingID: p.PairingID,
		ExpiresAt: p.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type confirmPairingRequest struct {
	Code string `json:"code"`
}

type confirmPairingResponse struct {
	Token           string `json:"token"`
	HostCertificate string `json:"host_certificate"`
	HostFingerprint string `json:"host_fingerprint"`
}

// confirmPairing completes a pairing with the user-entered code, returning
// the bearer token and the certificate material the device pins.
func (s *Server) confirmPairing(c echo.Context) error {
	var req confirmPairingRequest
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":   "invalid_request",
			"message": "code is required",
		})
	}

	p, err := s.pairing.Confirm(c.Request().Context(), c.Param("id"), req.Code)
	if err != nil {
		var cmdErr *entities.CommandError
		status := http.StatusInternalServerError
		message := "Could not confirm pairing"
		if e, ok := err.(*entities.CommandError); ok {
			cmdErr = e
			status = http.StatusUnauthorized
			message = cmdErr.Message
		}
		return c.JSON(status, echo.Map{
			"error":   "confirmation_failed",
			"message": message,
		})
	}

	return c.JSON(http.StatusOK, confirmPairingResponse{
		Token:           p.AuthToken,
		HostCertificate: string(s.identity.CertPEM),
		HostFingerprint: s.identity.Fingerprint,
	})
}

// cancelPairing abandons a pending pairing.
func (s *Server) cancelPairing(c echo.Context) error {
	if err := s.pairing.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{
			"error":   "not_found",
			"message": "No such pairing",
		})
	}
	return c.NoContent(http.StatusNoContent)
}

// status reports the admission queue standing.
func (s *Server) status(c echo.Context) error {
	st := s.admission.Status()
	return c.JSON(http.StatusOK, echo.Map{
		"queue_length":      st.QueueLength,
		"active_count":      st.ActiveCount,
		"estimated_wait_ms": st.EstimatedWait.Milliseconds(),
		"served":            st.Served,
		"rejections":        st.Rejections,
	})
}
