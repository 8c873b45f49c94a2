// Package ice builds the STUN/TURN server list handed to browser peers so
// they can establish the media path negotiated through the signaling relay.
package ice

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"
)

// Config is the deployment's ICE server configuration.
type Config struct {
	STUNServers    []string
	TURNURLs       []string
	TURNUsername   string
	TURNCredential string
}

// Servers converts cfg into pion ICE server descriptors: one entry for all
// STUN URLs and one for all TURN URLs. TURN URLs require a username and a
// credential.
func Servers(cfg Config) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if stun := clean(cfg.STUNServers); len(stun) > 0 {
		server := webrtc.ICEServer{URLs: stun}
		if err := validate(server); err != nil {
			return nil, fmt.Errorf("STUN_SERVERS: %w", err)
		}
		servers = append(servers, server)
	}

	if turn := clean(cfg.TURNURLs); len(turn) > 0 {
		server := webrtc.ICEServer{
			URLs:     turn,
			Username: strings.TrimSpace(cfg.TURNUsername),
		}
		if cred := strings.TrimSpace(cfg.TURNCredential); cred != "" {
			server.Credential = cred
		}
		if err := validate(server); err != nil {
			return nil, fmt.Errorf("TURN_URLS: %w", err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

type response struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

// Handler serves the server list as {"iceServers": [...]}.
func Handler(servers []webrtc.ICEServer) echo.HandlerFunc {
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	return func(c echo.Context) error {
		c.Response().Header().Set("Cache-Control", "no-store")
		return c.JSON(http.StatusOK, response{ICEServers: servers})
	}
}

func clean(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func validate(server webrtc.ICEServer) error {
	requiresCreds := false
	for _, raw := range server.URLs {
		url := strings.ToLower(raw)
		switch {
		case strings.HasPrefix(url, "stun:"), strings.HasPrefix(url, "stuns:"):
		case strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
			requiresCreds = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", raw)
		}
	}

	if requiresCreds {
		if server.Username == "" {
			return errors.New("turn urls require username")
		}
		if cred, ok := server.Credential.(string); !ok || cred == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}
