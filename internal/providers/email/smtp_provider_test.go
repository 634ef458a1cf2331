package email_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/notification-pipeline/internal/config"
	emailprovider "github.com/example/notification-pipeline/internal/providers/email"
	"github.com/example/notification-pipeline/internal/retry"
)

func TestNewSMTPProviderValidation(t *testing.T) {
	logger := zerolog.New(io.Discard)

	tests := []struct {
		name string
		cfg  config.SMTPConfig
	}{
		{name: "missing host", cfg: config.SMTPConfig{Port: 25, From: "noreply@example.com"}},
		{name: "invalid port", cfg: config.SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com"}},
		{name: "missing from", cfg: config.SMTPConfig{Host: "smtp.example.com", Port: 25}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := emailprovider.NewSMTPProvider(tc.cfg, logger)
			assert.Error(t, err)
		})
	}
}

func TestSMTPSendRejectsIncompleteMessage(t *testing.T) {
	provider := newTestSMTPProvider(t, nil)

	_, err := provider.Send(context.Background(), &emailprovider.Message{To: "a@b.com"})
	assert.ErrorIs(t, err, emailprovider.ErrInvalidMessage)
	assert.ErrorIs(t, err, retry.ErrPermanent)
}

func TestSMTPProviderSendsMultipartMessage(t *testing.T) {
	var (
		waitFn     func()
		transcript *smtpTranscript
	)
	defer func() {
		if waitFn != nil {
			waitFn()
		}
	}()

	dialer := dialerFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		conn, tr, wait := startFakeSMTPServer(t, "")
		transcript = tr
		waitFn = wait
		return conn, nil
	})
	provider := newTestSMTPProvider(t, dialer)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := provider.Send(ctx, &emailprovider.Message{
		MessageID: "<msg-1@example.com>",
		To:        "recipient@example.com",
		ToName:    "Recipient",
		Subject:   "Order X1 confirmed",
		HTMLBody:  "<p>Line 1</p>\n<p>Line 2</p>",
		TextBody:  "Line 1\nLine 2",
		Headers: map[string]string{
			"Bcc":        "bcc-header@example.com",
			"X-Campaign": "spring",
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "<msg-1@example.com>", res.MessageID)
	assert.Equal(t, "smtp", res.Provider)

	assert.Equal(t, "noreply@example.com", transcript.mailFrom)
	assert.Equal(t, []string{"recipient@example.com"}, transcript.rcpts)

	data := transcript.data
	for _, want := range []string{
		`From: "Shop" <noreply@example.com>`,
		`To: "Recipient" <recipient@example.com>`,
		"Subject: Order X1 confirmed",
		"Content-Type: multipart/alternative; boundary=",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Type: text/html; charset=UTF-8",
		"X-Campaign: spring",
		"Line 1\r\nLine 2",
	} {
		assert.Contains(t, data, want)
	}
	assert.NotContains(t, data, "bcc-header@example.com", "Bcc header must be stripped")
}

func TestSMTPProviderClassifiesRejections(t *testing.T) {
	var waitFn func()
	defer func() {
		if waitFn != nil {
			waitFn()
		}
	}()

	dialer := dialerFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		conn, _, wait := startFakeSMTPServer(t, "550 5.1.1 user unknown")
		waitFn = wait
		return conn, nil
	})
	provider := newTestSMTPProvider(t, dialer)

	res, err := provider.Send(context.Background(), &emailprovider.Message{
		To:       "missing@example.com",
		Subject:  "Hi",
		HTMLBody: "<p>Hi</p>",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrPermanent)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, 550, res.Code)
	assert.NotEmpty(t, res.Error)
}

func TestSMTPHealthCheckDialFailure(t *testing.T) {
	dialer := dialerFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	})
	provider := newTestSMTPProvider(t, dialer)

	health := provider.HealthCheck(context.Background())
	assert.False(t, health.Healthy)
	assert.Contains(t, health.Message, "connection refused")
	assert.False(t, provider.IsAvailable(context.Background()))
}

func newTestSMTPProvider(t *testing.T, dialer emailprovider.Dialer) *emailprovider.SMTPProvider {
	t.Helper()
	cfg := config.SMTPConfig{Host: "smtp.example.com", Port: 2525, From: "noreply@example.com", FromName: "Shop"}
	opts := []emailprovider.SMTPOption{emailprovider.WithSMTPTLSConfig(nil)}
	if dialer != nil {
		opts = append(opts, emailprovider.WithSMTPDialer(dialer))
	}
	provider, err := emailprovider.NewSMTPProvider(cfg, zerolog.New(io.Discard), opts...)
	require.NoError(t, err)
	return provider
}

// Helpers.

type dialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (d dialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d(ctx, network, address)
}

type smtpTranscript struct {
	mailFrom string
	rcpts    []string
	data     string
}

// startFakeSMTPServer runs a scripted SMTP conversation over a pipe. When
// rcptReply is set it is returned for RCPT TO instead of 250.
func startFakeSMTPServer(t *testing.T, rcptReply string) (net.Conn, *smtpTranscript, func()) {
	t.Helper()

	server, client := net.Pipe()
	transcript := &smtpTranscript{}
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer server.Close()
		if err := runFakeSMTPConversation(server, rcptReply, transcript); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
			assert.Failf(t, "fake smtp server", "%v", err)
		}
	}()

	return client, transcript, wg.Wait
}

func runFakeSMTPConversation(conn net.Conn, rcptReply string, transcript *smtpTranscript) error {
	writer := bufio.NewWriter(conn)
	reader := bufio.NewReader(conn)

	writeLine := func(format string, args ...interface{}) error {
		if _, err := fmt.Fprintf(writer, format+"\r\n", args...); err != nil {
			return err
		}
		return writer.Flush()
	}

	if err := writeLine("220 fake smtp ready"); err != nil {
		return err
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "EHLO ") || strings.HasPrefix(upper, "HELO "):
			if err := writeLine("250-fake"); err != nil {
				return err
			}
			if err := writeLine("250 OK"); err != nil {
				return err
			}
		case strings.HasPrefix(upper, "MAIL FROM:"):
			transcript.mailFrom = extractSMTPAddress(line)
			if err := writeLine("250 OK"); err != nil {
				return err
			}
		case strings.HasPrefix(upper, "RCPT TO:"):
			transcript.rcpts = append(transcript.rcpts, extractSMTPAddress(line))
			reply := "250 OK"
			if rcptReply != "" {
				reply = rcptReply
			}
			if err := writeLine("%s", reply); err != nil {
				return err
			}
		case upper == "DATA":
			if err := writeLine("354 Start mail input; end with <CRLF>.<CRLF>"); err != nil {
				return err
			}
			var data strings.Builder
			for {
				msgLine, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				if msgLine == ".\r\n" {
					break
				}
				data.WriteString(msgLine)
			}
			transcript.data = data.String()
			if err := writeLine("250 OK"); err != nil {
				return err
			}
		case upper == "QUIT":
			return writeLine("221 Bye")
		default:
			if err := writeLine("250 OK"); err != nil {
				return err
			}
		}
	}
}

func extractSMTPAddress(line string) string {
	start := strings.Index(line, "<")
	end := strings.Index(line, ">")
	if start != -1 && end != -1 && end > start+1 {
		return strings.TrimSpace(line[start+1 : end])
	}
	if idx := strings.Index(line, ":"); idx != -1 && idx+1 < len(line) {
		return strings.TrimSpace(line[idx+1:])
	}
	return strings.TrimSpace(line)
}
