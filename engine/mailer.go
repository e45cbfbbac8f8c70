package engine

import (
	"github.com/sirupsen/logrus"
)

// SendJob is one rendered email handed to the mail transport collaborator.
type SendJob struct {
	MessageID string
	To        string
	Subject   string
	HTML      string
	Text      string
}

// Mailer is the external mail transport. Implementations return the
// provider's message id when they have one, or echo the job's.
type Mailer interface {
	Send(job SendJob) (string, error)
}

// InteractionRecorder appends an interaction to a contact's timeline, with
// scoring applied atomically. Implemented by *ContactService; the sequence
// engine and dispatcher record sends and engagement through it.
type InteractionRecorder interface {
	RecordInteraction(contactID uint, interactionType, description, metadata string) error
}

// LogMailer writes send jobs to the log only. Used when no SMTP transport is
// configured, typically in development.
type LogMailer struct {
	Logger *logrus.Logger
}

func (m *LogMailer) Send(job SendJob) (string, error) {
	m.Logger.WithFields(logrus.Fields{
		"message_id": job.MessageID,
		"to":         job.To,
		"subject":    job.Subject,
	}).Info("send job emitted (log transport)")
	return job.MessageID, nil
}
