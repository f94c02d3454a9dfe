package interpreter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/NotCoffee418/p1_gridmeter/pkg/logging"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var ErrListenerGaveUp = errors.New("websocket listener gave up")

var (
	maxRetries     = 10
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 60 * time.Second
	// DSMR 4 meters only send every 10 seconds
	readTimeout  = 30 * time.Second
	pingInterval = 15 * time.Second
)

// ListenerURL is the /ws endpoint of the interpreter API at host.
func ListenerURL(host string, tlsEnabled bool) url.URL {
	scheme := "ws"
	if tlsEnabled {
		scheme = "wss"
	}
	return url.URL{Scheme: scheme, Host: host, Path: "/ws"}
}

// StartListener keeps a websocket connection to the interpreter API open
// and calls handle for each message, reconnecting with exponential
// backoff. It returns nil once ctx is done and ErrListenerGaveUp when the
// API stayed unreachable.
func StartListener(ctx context.Context, host string, tlsEnabled bool, handle func(msg *Message)) error {
	u := ListenerURL(host, tlsEnabled)
	logger := logging.Component("interpreter")

	retryCount := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		if retryCount > 0 {
			retryDelay := backoff(retryCount)
			logger.Info().Msgf("Retrying connection in %v... (attempt %d/%d)", retryDelay, retryCount+1, maxRetries)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil
			}
		}

		logger.Info().Str("url", u.String()).Msg("Connecting")

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		c, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			logger.Warn().Err(err).Msg("Connection failed")
			retryCount++
			if retryCount >= maxRetries {
				return fmt.Errorf("%w after %d attempts: %w", ErrListenerGaveUp, maxRetries, err)
			}
			continue
		}

		logger.Info().Msg("Connected! Accepting meter messages.")
		retryCount = 0

		connectionBroken := handleConnection(ctx, c, handle, logger)
		c.Close()
		if !connectionBroken {
			return nil
		}

		logger.Warn().Msg("Connection lost, will retry...")
	}
}

func backoff(retryCount int) time.Duration {
	retryDelay := time.Duration(1<<(retryCount-1)) * baseRetryDelay
	if retryDelay > maxRetryDelay || retryDelay <= 0 {
		retryDelay = maxRetryDelay
	}
	return retryDelay
}

// handleConnection reads until the connection breaks (true) or ctx is
// done (false).
func handleConnection(
	ctx context.Context,
	c *websocket.Conn,
	handle func(msg *Message),
	logger zerolog.Logger,
) bool {
	done := make(chan struct{})

	c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn().Err(err).Msg("WebSocket error")
				} else {
					logger.Info().Err(err).Msg("Connection closed")
				}
				return
			}

			c.SetReadDeadline(time.Now().Add(readTimeout))

			if messageType != websocket.TextMessage {
				logger.Debug().Int("type", messageType).Msg("Received unexpected message type")
				continue
			}
			msg, err := ParseMessage(message)
			if err != nil {
				logger.Warn().Err(err).Str("message", string(message)).Msg("Failed to parse message")
				continue
			}
			handle(msg)
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return true
		case <-ticker.C:
			// WriteControl may run concurrently with the reader
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				logger.Warn().Err(err).Msg("Failed to send ping")
			}
		case <-ctx.Done():
			logger.Info().Msg("Shutting down, closing connection...")
			err := c.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			if err != nil {
				logger.Warn().Err(err).Msg("Error sending close message")
			}

			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return false
		}
	}
}
