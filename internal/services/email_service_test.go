package services

import (
	"testing"

	"github.com/bbux/presale-api/internal/config"
)

func TestIsEmailValid(t *testing.T) {
	svc := NewEmailService(config.EmailConfig{}, "BBUX")

	valid := []string{"buyer@example.com", "a.b@mail.co", "x@sub.domain.io"}
	for _, email := range valid {
		if !svc.IsEmailValid(email) {
			t.Errorf("%q rejected", email)
		}
	}

	invalid := []string{"", "nope", "a@b", "a@b.", "a@@b.com", "two@parts@x.com"}
	for _, email := range invalid {
		if svc.IsEmailValid(email) {
			t.Errorf("%q accepted", email)
		}
	}
}

func TestConfiguredRequiresHostAndSender(t *testing.T) {
	if NewEmailService(config.EmailConfig{SMTPHost: "smtp.example.com"}, "BBUX").Configured() {
		t.Fatal("configured without a sender address")
	}
	if !NewEmailService(config.EmailConfig{
		SMTPHost:  "smtp.example.com",
		FromEmail: "noreply@example.com",
	}, "BBUX").Configured() {
		t.Fatal("not configured with host and sender set")
	}
}
