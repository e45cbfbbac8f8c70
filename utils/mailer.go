package utils

import (
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"opsvantage/config"
	"opsvantage/engine"
)

// SMTPMailer delivers send jobs over SMTP. One attempt per call; retry
// policy belongs to the caller, which knows the delivery context.
type SMTPMailer struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
	logger   *logrus.Logger
}

func NewSMTPMailer(cfg *config.Config, logger *logrus.Logger) *SMTPMailer {
	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	dialer.TLSConfig = &tls.Config{ServerName: cfg.SMTPHost}

	return &SMTPMailer{
		dialer:   dialer,
		from:     cfg.FromEmail,
		fromName: cfg.FromName,
		logger:   logger,
	}
}

func (m *SMTPMailer) Send(job engine.SendJob) (string, error) {
	msg := gomail.NewMessage()
	msg.SetHeader("From", fmt.Sprintf("%s <%s>", m.fromName, m.from))
	msg.SetHeader("To", job.To)
	msg.SetHeader("Subject", job.Subject)
	msg.SetHeader("Message-ID", fmt.Sprintf("<%s@opsvantage>", job.MessageID))
	if job.Text != "" {
		msg.SetBody("text/plain", job.Text)
		msg.AddAlternative("text/html", job.HTML)
	} else {
		msg.SetBody("text/html", job.HTML)
	}

	if err := m.dialer.DialAndSend(msg); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"to":        job.To,
			"temporary": IsTemporarySMTPError(err),
		}).Warn("smtp delivery attempt failed")
		return "", err
	}
	return job.MessageID, nil
}

// IsTemporarySMTPError reports whether the failure is worth retrying. 4xx
// SMTP codes and transport-level hiccups are temporary; 5xx rejections are
// permanent.
func IsTemporarySMTPError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	for _, marker := range []string{"421", "450", "451", "452", "timeout", "temporarily", "connection reset"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
