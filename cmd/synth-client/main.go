// synth-client tails the synthd WebSocket event stream and prints every
// asset, position and liquidation event it receives.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"
)

type subscribeRequest struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

type serverMessage struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func main() {
	wsURL := flag.String("url", "ws://localhost:8081/ws", "WebSocket URL")
	channels := flag.String("channels", "assets,positions,liquidations", "Comma-separated channels")
	flag.Parse()

	logger := log.Root().New("module", "synth-client")

	u, err := url.Parse(*wsURL)
	if err != nil {
		logger.Error("Invalid URL", "error", err)
		os.Exit(1)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		logger.Error("Failed to connect", "url", *wsURL, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	logger.Info("Connected", "url", *wsURL)

	sub := subscribeRequest{
		Type:     "subscribe",
		Channels: strings.Split(*channels, ","),
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Error("Subscribe failed", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg serverMessage
			if err := conn.ReadJSON(&msg); err != nil {
				logger.Error("Read error", "error", err)
				return
			}
			ts := time.Unix(msg.Timestamp, 0).Format(time.RFC3339)
			fmt.Printf("[%s] %-22s %-13s %s\n", ts, msg.Type, msg.Channel, msg.Data)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	select {
	case <-done:
	case <-sigChan:
		logger.Info("Closing connection")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
