// Package mailbox adapts go-imap v2 into the scoped per-cycle session
// the poll loop consumes: connect, login, select, day-granular search,
// per-UID fetch, best-effort logout.
package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/watch"
)

// Client holds the connection settings for the watched mailbox.
type Client struct {
	host    string
	port    string
	user    string
	pass    string
	folder  string
	tls     bool
	timeout time.Duration
}

// NewClient creates a mailbox client from the loaded settings.
func NewClient(cfg *model.Settings) *Client {
	return &Client{
		host:    cfg.IMAPHost,
		port:    cfg.IMAPPort,
		user:    cfg.IMAPUser,
		pass:    cfg.IMAPPassword,
		folder:  cfg.Mailbox,
		tls:     cfg.IMAPTLS,
		timeout: cfg.IOTimeout(),
	}
}

// Open connects, authenticates, and selects the watched folder. Any
// failure here is cycle-fatal for the caller. The returned session must
// be closed by the caller regardless of later errors.
func (c *Client) Open(_ context.Context) (watch.Session, error) {
	addr := net.JoinHostPort(c.host, c.port)

	var client *imapclient.Client
	if c.tls {
		dialer := &net.Dialer{Timeout: c.timeout}
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{
			ServerName: c.host,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}
		client = imapclient.New(conn, nil)
	} else {
		dialer := &net.Dialer{Timeout: c.timeout}
		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}
		client, err = imapclient.NewStartTLS(conn, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: c.host},
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}
	}

	if err := client.Login(c.user, c.pass).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("authenticating %s: %w", c.user, err)
	}

	if _, err := client.Select(c.folder, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("selecting %s: %w", c.folder, err)
	}

	return &Session{client: client, login: c.user}, nil
}

// Session is one connected, authenticated IMAP session with the watched
// folder selected.
type Session struct {
	client *imapclient.Client
	login  string
}

// SearchSince returns the UIDs of messages dated on or after the given
// day. IMAP SINCE compares internal dates at day granularity only, so
// callers must re-check exact timestamps client-side.
func (s *Session) SearchSince(_ context.Context, since time.Time) ([]uint32, error) {
	criteria := &imap.SearchCriteria{
		Since: since,
	}

	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := searchData.AllUIDs()
	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		out = append(out, uint32(uid))
	}
	return out, nil
}

// Fetch retrieves the full message for one UID and parses it into a
// candidate. A failure affects that message only.
func (s *Session) Fetch(_ context.Context, uid uint32) (*model.Candidate, error) {
	uidSet := imap.UIDSetNum(imap.UID(uid))

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := s.client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return nil, fmt.Errorf("message UID %d has no body section", uid)
	}

	cand, err := parseMessage(raw, s.login)
	if err != nil {
		return nil, err
	}
	cand.UID = uid

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("closing fetch: %w", err)
	}

	return cand, nil
}

// Close logs out of the IMAP server.
func (s *Session) Close() error {
	return s.client.Logout().Wait()
}
