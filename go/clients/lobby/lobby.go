// Package lobby is the controller's client for reserving and joining a relay lobby.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/chatplays/go/clients"
)

var (
	ErrLobbyTaken    = errors.New("lobby already in play")
	ErrLobbyNotFound = errors.New("lobby not found")
	ErrWrongKey      = errors.New("wrong lobby key")
)

type Client struct {
	*clients.BaseClient
	dialer *websocket.Dialer
}

// NewClient targets a relay at baseURL (http or https).
func NewClient(baseURL string) *Client {
	return &Client{
		BaseClient: clients.NewBaseClient(strings.TrimRight(baseURL, "/")),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
	}
}

// Reserve opens a lobby for identity and returns its one-time key.
func (c *Client) Reserve(ctx context.Context, identity string) (string, error) {
	body, err := c.Post(ctx, "/lobby/new?user="+url.QueryEscape(identity), nil)
	if err != nil {
		var se *clients.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusConflict {
			return "", fmt.Errorf("%w: %s", ErrLobbyTaken, strings.TrimSpace(se.Body))
		}
		return "", fmt.Errorf("reserve lobby: %w", err)
	}
	key := strings.TrimSpace(string(body))
	if key == "" {
		return "", errors.New("reserve lobby: empty key")
	}
	return key, nil
}

// Connect opens the controller socket for a reserved lobby.
func (c *Client) Connect(ctx context.Context, identity, key string) (*websocket.Conn, error) {
	u, err := url.Parse(c.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/lobby/connect/streamer"
	u.RawQuery = url.Values{"user": {identity}, "key": {key}}.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusConflict:
				return nil, ErrLobbyTaken
			case http.StatusNotFound:
				return nil, ErrLobbyNotFound
			case http.StatusForbidden:
				return nil, ErrWrongKey
			}
		}
		return nil, fmt.Errorf("connect to lobby: %w", err)
	}
	return conn, nil
}
