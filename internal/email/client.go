// Package email is the IMAP collector: it fetches unseen mail above a
// persisted high-water UID, normalizes each message to plain text, and
// stores it as an event, a memory document, and a contact touch.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

const (
	maxBodySize       = 32 * 1024
	maxRawMessageSize = 5 * 1024 * 1024
)

// Config is one IMAP account.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
	Folder   string `yaml:"folder"` // default INBOX
}

// Message is one normalized fetched message.
type Message struct {
	UID     uint32
	From    string
	FromAdr string
	To      []string
	Subject string
	Date    time.Time
	Body    string // plain text, HTML already stripped
}

// Client wraps go-imap/v2 with lazy connection and mutex-serialized
// access.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client
}

// NewClient creates a client; the connection is established on first
// use.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	return &Client{cfg: cfg, logger: logger}
}

func (c *Client) connectLocked() error {
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	var opts imapclient.Options
	var client *imapclient.Client
	var err error
	if c.cfg.TLS {
		opts.TLSConfig = &tls.Config{ServerName: c.cfg.Host}
		client, err = imapclient.DialTLS(addr, &opts)
	} else {
		client, err = imapclient.DialInsecure(addr, &opts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("login as %s: %w", c.cfg.Username, err)
	}
	c.client = client
	c.logger.Info("IMAP connected", "host", c.cfg.Host, "user", c.cfg.Username)
	return nil
}

func (c *Client) ensureConnected() error {
	if c.client != nil {
		if err := c.client.Noop().Wait(); err == nil {
			return nil
		}
		c.logger.Debug("IMAP connection stale, reconnecting", "host", c.cfg.Host)
	}
	return c.connectLocked()
}

// Close logs out.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// FetchAbove returns all messages in the configured folder with UID
// greater than sinceUID, oldest first, bodies parsed to plain text.
func (c *Client) FetchAbove(ctx context.Context, sinceUID uint32) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	if _, err := c.client.Select(c.cfg.Folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("select %s: %w", c.cfg.Folder, err)
	}

	criteria := &imap.SearchCriteria{
		UID: []imap.UIDSet{{imap.UIDRange{Start: imap.UID(sinceUID + 1), Stop: 0}}},
	}
	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	fetchCmd := c.client.Fetch(uidSet, &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: true}, // collecting must not mark mail as read
		},
	})

	var messages []Message
	for {
		data := fetchCmd.Next()
		if data == nil {
			break
		}
		msg, err := c.parseMessage(data)
		if err != nil {
			c.logger.Debug("skipping message", "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return messages, nil
}

func (c *Client) parseMessage(data *imapclient.FetchMessageData) (Message, error) {
	var msg Message
	var rawBody []byte

	for {
		item := data.Next()
		if item == nil {
			break
		}
		switch d := item.(type) {
		case imapclient.FetchItemDataUID:
			msg.UID = uint32(d.UID)
		case imapclient.FetchItemDataEnvelope:
			if d.Envelope != nil {
				msg.Date = d.Envelope.Date
				msg.Subject = d.Envelope.Subject
				if len(d.Envelope.From) > 0 {
					msg.From = formatAddress(d.Envelope.From[0])
					msg.FromAdr = d.Envelope.From[0].Addr()
				}
				for _, addr := range d.Envelope.To {
					msg.To = append(msg.To, formatAddress(addr))
				}
			}
		case imapclient.FetchItemDataBodySection:
			// The literal streams from the connection; it must be
			// consumed before the next item.
			if d.Literal == nil {
				continue
			}
			var readErr error
			rawBody, readErr = io.ReadAll(io.LimitReader(d.Literal, maxRawMessageSize))
			_, _ = io.Copy(io.Discard, d.Literal)
			if readErr != nil {
				c.logger.Debug("body literal read failed", "uid", msg.UID, "error", readErr)
				rawBody = nil
			}
		}
	}

	if msg.UID == 0 {
		return msg, fmt.Errorf("message missing UID")
	}
	if rawBody != nil {
		msg.Body = c.parseBody(bytes.NewReader(rawBody))
	}
	return msg, nil
}

// parseBody walks the MIME parts and returns plain text: the first
// text/plain part when present, otherwise the first text/html part
// stripped to text. go-message may return both a valid reader and an
// unknown-charset error; those parts are kept as-is.
func (c *Client) parseBody(r io.Reader) string {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return ""
	}
	if mr == nil {
		return ""
	}

	var plain, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			break
		}
		if part == nil {
			continue
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue // attachments
		}
		contentType, _, _ := header.ContentType()

		switch {
		case contentType == "text/plain" && plain == "":
			plain = readPart(part.Body)
		case contentType == "text/html" && htmlBody == "":
			htmlBody = readPart(part.Body)
		}
	}

	if plain != "" {
		return plain
	}
	return htmlToText(htmlBody)
}

func readPart(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return ""
	}
	text := string(body)
	if len(body) > maxBodySize {
		text = text[:maxBodySize] + "\n\n[truncated]"
	}
	return text
}

func formatAddress(addr imap.Address) string {
	email := addr.Addr()
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, email)
	}
	return email
}
