package services

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/bbux/presale-api/internal/config"
)

// EmailService handles email operations
type EmailService struct {
	cfg    config.EmailConfig
	symbol string
}

// NewEmailService creates a new EmailService
func NewEmailService(cfg config.EmailConfig, tokenSymbol string) *EmailService {
	return &EmailService{
		cfg:    cfg,
		symbol: tokenSymbol,
	}
}

// Configured reports whether outbound email is usable.
func (s *EmailService) Configured() bool {
	return s.cfg.Configured()
}

// SendClaimLink sends the buyer their claim URL.
func (s *EmailService) SendClaimLink(email, claimURL string, expiresAt time.Time) error {
	subject := fmt.Sprintf("Your %s purchase is ready to claim", s.symbol)
	body := fmt.Sprintf(`
Thank you for your purchase!

Claim your %s tokens by opening the link below and connecting the wallet
you want them delivered to:

%s

This link expires at %s.

If you did not make this purchase, ignore this email.
`, s.symbol, claimURL, expiresAt.UTC().Format(time.RFC1123))

	return s.SendEmail(email, subject, body)
}

// SendEmail sends an email
func (s *EmailService) SendEmail(to, subject, body string) error {
	// SMTP server configuration
	smtpHost := s.cfg.SMTPHost
	smtpPort := s.cfg.SMTPPort
	smtpUser := s.cfg.SMTPUser
	smtpPassword := s.cfg.SMTPPassword
	from := s.cfg.FromEmail

	// Message
	message := []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", from, to, subject, body))

	// Authentication
	auth := smtp.PlainAuth("", smtpUser, smtpPassword, smtpHost)

	// SMTP connection
	addr := fmt.Sprintf("%s:%d", smtpHost, smtpPort)

	// Send email
	if err := smtp.SendMail(addr, auth, from, []string{to}, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// IsEmailValid checks if an email address is valid
func (s *EmailService) IsEmailValid(email string) bool {
	// Basic validation - check for @ symbol and at least one dot after it
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}

	// Check if domain has at least one dot
	domainParts := strings.Split(parts[1], ".")
	return len(domainParts) >= 2 && domainParts[len(domainParts)-1] != ""
}
