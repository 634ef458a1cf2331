package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/notification-pipeline/internal/config"
	"github.com/example/notification-pipeline/internal/retry"
)

// SMTPOption configures the behaviour of the SMTP provider.
type SMTPOption func(*SMTPProvider)

// WithSMTPTLSConfig overrides the TLS configuration used when negotiating STARTTLS.
func WithSMTPTLSConfig(cfg *tls.Config) SMTPOption {
	return func(p *SMTPProvider) {
		p.tlsConfig = cfg
	}
}

// WithSMTPDialer swaps the network dialer used to establish SMTP connections.
func WithSMTPDialer(d Dialer) SMTPOption {
	return func(p *SMTPProvider) {
		if d != nil {
			p.dialer = d
		}
	}
}

// WithSMTPAuth supplies a custom SMTP auth strategy.
func WithSMTPAuth(auth smtp.Auth) SMTPOption {
	return func(p *SMTPProvider) {
		p.auth = auth
	}
}

// WithSMTPClock replaces the clock used for timestamps.
func WithSMTPClock(now func() time.Time) SMTPOption {
	return func(p *SMTPProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSMTPHelloName customises the EHLO/HELO identity presented to the server.
func WithSMTPHelloName(name string) SMTPOption {
	return func(p *SMTPProvider) {
		if strings.TrimSpace(name) != "" {
			p.helloName = strings.TrimSpace(name)
		}
	}
}

// Dialer abstracts net.Dialer to simplify testing.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SMTPProvider delivers mail through an SMTP relay.
type SMTPProvider struct {
	logger    zerolog.Logger
	host      string
	port      int
	from      string
	fromName  string
	auth      smtp.Auth
	tlsConfig *tls.Config
	dialer    Dialer
	now       func() time.Time
	helloName string
}

// NewSMTPProvider constructs a Provider backed by an SMTP server.
func NewSMTPProvider(cfg config.SMTPConfig, logger zerolog.Logger, opts ...SMTPOption) (*SMTPProvider, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp provider: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp provider: invalid port %d", cfg.Port)
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(cfg.From)); err != nil {
		return nil, fmt.Errorf("smtp provider: from address: %w", err)
	}

	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	p := &SMTPProvider{
		logger:    logger.With().Str("provider", "smtp").Logger(),
		host:      cfg.Host,
		port:      cfg.Port,
		from:      strings.TrimSpace(cfg.From),
		fromName:  strings.TrimSpace(cfg.FromName),
		dialer:    &net.Dialer{Timeout: 30 * time.Second},
		now:       time.Now,
		helloName: "localhost",
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
	}

	if strings.TrimSpace(cfg.User) != "" {
		p.auth = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p, nil
}

// Name implements Provider.
func (p *SMTPProvider) Name() string {
	return "smtp"
}

// Send delivers msg. SMTP 5xx replies are wrapped as retry.ErrPermanent and
// 4xx replies or network failures as retry.ErrTransient.
func (p *SMTPProvider) Send(ctx context.Context, msg *Message) (*Result, error) {
	if err := msg.Validate(); err != nil {
		return nil, retry.WrapPermanent(err)
	}

	envelopeTo, err := envelopeAddress(msg.To)
	if err != nil {
		err = retry.WrapPermanent(fmt.Errorf("smtp provider: invalid address %q: %w", msg.To, err))
		return failed(p.Name(), 0, err, p.now()), err
	}
	envelopeFrom, err := envelopeAddress(firstNonEmpty(msg.From, p.from))
	if err != nil {
		err = retry.WrapPermanent(fmt.Errorf("smtp provider: invalid from address: %w", err))
		return failed(p.Name(), 0, err, p.now()), err
	}

	messageID := msg.MessageID
	if messageID == "" {
		messageID = fmt.Sprintf("<%s@%s>", uuid.NewString(), p.host)
	}

	body, err := p.buildMessage(msg, envelopeFrom, messageID)
	if err != nil {
		return nil, retry.WrapPermanent(err)
	}

	if err := p.deliver(ctx, envelopeFrom, envelopeTo, body); err != nil {
		code, classified := classifySMTPError(err)
		p.logger.Warn().Err(err).Int("code", code).Str("recipient", envelopeTo).Msg("smtp delivery failed")
		return failed(p.Name(), code, classified, p.now()), classified
	}

	return &Result{
		Success:   true,
		MessageID: messageID,
		Provider:  p.Name(),
		Code:      250,
		Timestamp: p.now(),
	}, nil
}

// HealthCheck opens a session, greets the server and quits.
func (p *SMTPProvider) HealthCheck(ctx context.Context) Health {
	client, conn, err := p.open(ctx)
	if err != nil {
		return Health{Healthy: false, Message: err.Error()}
	}
	defer conn.Close()
	defer client.Close()

	if err := client.Noop(); err != nil {
		return Health{Healthy: false, Message: fmt.Sprintf("smtp provider: noop: %v", err)}
	}
	_ = client.Quit()
	return Health{Healthy: true, Message: "smtp relay reachable"}
}

// IsAvailable implements AvailabilityChecker.
func (p *SMTPProvider) IsAvailable(ctx context.Context) bool {
	return p.HealthCheck(ctx).Healthy
}

func (p *SMTPProvider) open(ctx context.Context) (*smtp.Client, net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	addr := net.JoinHostPort(p.host, strconv.Itoa(p.port))
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("smtp provider: dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, p.host)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("smtp provider: new client: %w", err)
	}
	if err := client.Hello(p.helloName); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("smtp provider: hello: %w", err)
	}
	return client, conn, nil
}

func (p *SMTPProvider) deliver(ctx context.Context, from, to string, message []byte) error {
	client, conn, err := p.open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	if cfg := p.sessionTLSConfig(); cfg != nil {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(cfg); err != nil {
				return fmt.Errorf("smtp provider: starttls: %w", err)
			}
		}
	}

	if p.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(p.auth); err != nil {
				return fmt.Errorf("smtp provider: authentication: %w", err)
			}
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp provider: mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp provider: rcpt to %s: %w", to, err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp provider: data: %w", err)
	}
	if _, err := writer.Write(message); err != nil {
		_ = writer.Close()
		return fmt.Errorf("smtp provider: data write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp provider: data close: %w", err)
	}

	if err := client.Quit(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("smtp provider: quit: %w", err)
	}

	return ctx.Err()
}

// buildMessage renders the RFC 5322 message. A text body alongside the HTML
// body produces multipart/alternative.
func (p *SMTPProvider) buildMessage(msg *Message, from, messageID string) ([]byte, error) {
	headers := make(map[string]string, len(msg.Headers)+8)
	for key, value := range msg.Headers {
		canonical := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(key))
		if canonical == "" || strings.TrimSpace(value) == "" {
			continue
		}
		headers[canonical] = sanitizeHeaderValue(value)
	}
	delete(headers, "Bcc")
	delete(headers, "Cc")

	headers["From"] = formatAddress(firstNonEmpty(msg.FromName, p.fromName), from)
	headers["To"] = formatAddress(msg.ToName, strings.TrimSpace(msg.To))
	headers["Subject"] = mime.QEncoding.Encode("utf-8", sanitizeHeaderValue(msg.Subject))
	headers["Message-Id"] = sanitizeHeaderValue(messageID)
	headers["MIME-Version"] = "1.0"
	if _, ok := headers["Date"]; !ok {
		headers["Date"] = p.now().UTC().Format(time.RFC1123Z)
	}

	var body bytes.Buffer
	switch {
	case msg.HTMLBody != "" && msg.TextBody != "":
		mw := multipart.NewWriter(&body)
		headers["Content-Type"] = "multipart/alternative; boundary=" + mw.Boundary()
		if err := writePart(mw, "text/plain; charset=UTF-8", msg.TextBody); err != nil {
			return nil, err
		}
		if err := writePart(mw, "text/html; charset=UTF-8", msg.HTMLBody); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, fmt.Errorf("smtp provider: multipart close: %w", err)
		}
	case msg.HTMLBody != "":
		headers["Content-Type"] = "text/html; charset=UTF-8"
		headers["Content-Transfer-Encoding"] = "quoted-printable"
		if err := writeQuotedPrintable(&body, msg.HTMLBody); err != nil {
			return nil, err
		}
	default:
		headers["Content-Type"] = "text/plain; charset=UTF-8"
		headers["Content-Transfer-Encoding"] = "quoted-printable"
		if err := writeQuotedPrintable(&body, msg.TextBody); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, key := range keys {
		buf.WriteString(key)
		buf.WriteString(": ")
		buf.WriteString(headers[key])
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(body.Bytes())

	return buf.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType, content string) error {
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return fmt.Errorf("smtp provider: multipart part: %w", err)
	}
	return writeQuotedPrintable(part, content)
}

func writeQuotedPrintable(w io.Writer, content string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(normalizeBody(content))); err != nil {
		return fmt.Errorf("smtp provider: encode body: %w", err)
	}
	return qp.Close()
}

func (p *SMTPProvider) sessionTLSConfig() *tls.Config {
	if p.tlsConfig == nil {
		return nil
	}
	cfg := p.tlsConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = p.host
	}
	return cfg
}

func normalizeBody(body string) string {
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return strings.ReplaceAll(normalized, "\n", "\r\n")
}

func sanitizeHeaderValue(value string) string {
	clean := strings.ReplaceAll(value, "\r", " ")
	clean = strings.ReplaceAll(clean, "\n", " ")
	return strings.TrimSpace(clean)
}

func formatAddress(name, addr string) string {
	name = sanitizeHeaderValue(name)
	if name == "" {
		return addr
	}
	return (&mail.Address{Name: name, Address: addr}).String()
}

func envelopeAddress(value string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(value))
	if err != nil {
		return "", err
	}
	if addr.Address == "" {
		return "", errors.New("empty address")
	}
	return addr.Address, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// classifySMTPError extracts the reply code and tags the error so the retry
// policy can decide without parsing text.
func classifySMTPError(err error) (int, error) {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		wrapped := fmt.Errorf("smtp %d: %s: %w", tpErr.Code, strings.TrimSpace(tpErr.Msg), err)
		if tpErr.Code >= 500 {
			return tpErr.Code, retry.WrapPermanent(wrapped)
		}
		return tpErr.Code, retry.WrapTransient(wrapped)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return 0, retry.WrapTransient(fmt.Errorf("smtp network error: %w", err))
	}
	return 0, err
}
