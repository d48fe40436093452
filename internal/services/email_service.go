package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/hussnainartilence/survey-backend/pkg/logger"
)

// EmailService defines the interface for sending emails
type EmailService interface {
	SendVerificationEmail(ctx context.Context, email, name, token string, expiresAt time.Time) error
}

// sesAPI is the subset of the SES client used here
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   sesAPI
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(ctx context.Context, region, fromAddress, baseURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newSESEmailService(ses.NewFromConfig(cfg), fromAddress, baseURL, logger), nil
}

func newSESEmailService(client sesAPI, fromAddress, baseURL string, logger *slog.Logger) *AWSSESEmailService {
	return &AWSSESEmailService{
		sesClient:   client,
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}
}

// VerificationLink builds the link served by GET /users/email/verification
func VerificationLink(baseURL, email, token string) string {
	q := url.Values{}
	q.Set("email", email)
	q.Set("token", token)
	return baseURL + "/users/email/verification?" + q.Encode()
}

// SendVerificationEmail sends a verification email to the account
func (s *AWSSESEmailService) SendVerificationEmail(ctx context.Context, email, name, token string, expiresAt time.Time) error {
	link := VerificationLink(s.baseURL, email, token)
	expires := expiresAt.UTC().Format("2006-01-02 15:04 MST")

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <h1>Verify Your Email Address</h1>
    <p>Hello %s,</p>
    <p>An account has been created for you. Please verify your email address by clicking the link below:</p>
    <p><a href="%s">Verify Email Address</a></p>
    <p>Or copy and paste this link in your browser:<br><code>%s</code></p>
    <p>This link expires on %s.</p>
    <p style="color: #666; font-size: 12px;">This is an automated message. Please do not reply to this email.</p>
</body>
</html>
`, name, link, link, expires)

	textBody := fmt.Sprintf(`Verify Your Email Address

Hello %s,

An account has been created for you. Please verify your email address by opening the link below:

%s

This link expires on %s.

This is an automated message. Please do not reply to this email.
`, name, link, expires)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Verify your email address"),
			},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("verification email sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogEmailService is used when email delivery is disabled. It only logs that
// a message would have been sent.
type LogEmailService struct {
	logger *slog.Logger
}

func NewLogEmailService(logger *slog.Logger) *LogEmailService {
	return &LogEmailService{logger: logger}
}

func (s *LogEmailService) SendVerificationEmail(_ context.Context, email, _, _ string, expiresAt time.Time) error {
	s.logger.Info("email delivery disabled, verification email skipped",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.Time("expires_at", expiresAt))
	return nil
}

// Notifier dispatches emails in the background. Failures are logged and never
// reach the request that triggered them.
type Notifier struct {
	sender  EmailService
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewNotifier(sender EmailService, timeout time.Duration, logger *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{sender: sender, timeout: timeout, logger: logger}
}

// SendVerification queues a verification email and returns immediately
func (n *Notifier) SendVerification(email, name, token string, expiresAt time.Time) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		if err := n.sender.SendVerificationEmail(ctx, email, name, token, expiresAt); err != nil {
			n.logger.Error("failed to send verification email",
				slog.String("email", pkglogger.SanitizedEmail(email)),
				slog.Any("error", err))
		}
	}()
}

// Wait blocks until every queued email has been attempted
func (n *Notifier) Wait() {
	n.wg.Wait()
}
