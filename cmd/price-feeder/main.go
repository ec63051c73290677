// price-feeder bridges external price publications to the ledger: it
// subscribes to NATS price subjects and pushes each quote to synthd's
// JSON-RPC API as the price authority.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
)

// quote is the expected payload on prices.<symbol> subjects
type quote struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      uint64      `json:"id"`
}

type rpcResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type updatePriceParams struct {
	Caller string `json:"caller"`
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type feeder struct {
	rpcURL string
	caller string
	client *http.Client
	logger log.Logger

	pushed uint64
	failed uint64
	nextID uint64
}

func (f *feeder) push(q quote) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "synth_updatePrice",
		Params: updatePriceParams{
			Caller: f.caller,
			Symbol: q.Symbol,
			Price:  q.Price,
		},
		ID: atomic.AddUint64(&f.nextID, 1),
	})
	if err != nil {
		return
	}

	resp, err := f.client.Post(f.rpcURL, "application/json", bytes.NewReader(body))
	if err != nil {
		atomic.AddUint64(&f.failed, 1)
		f.logger.Error("push failed", "symbol", q.Symbol, "error", err)
		return
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		atomic.AddUint64(&f.failed, 1)
		return
	}
	if out.Error != nil {
		atomic.AddUint64(&f.failed, 1)
		f.logger.Warn("price rejected",
			"symbol", q.Symbol, "price", q.Price,
			"code", out.Error.Code, "message", out.Error.Message)
		return
	}
	atomic.AddUint64(&f.pushed, 1)
}

func main() {
	natsURL := flag.String("nats", nats.DefaultURL, "NATS server URL")
	subject := flag.String("subject", "prices.>", "NATS subject to subscribe")
	rpcURL := flag.String("rpc", "http://localhost:8080/rpc", "synthd JSON-RPC endpoint")
	caller := flag.String("caller", "owner", "Price authority identity")
	flag.Parse()

	logger := log.Root().New("module", "price-feeder")

	f := &feeder{
		rpcURL: *rpcURL,
		caller: *caller,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}

	nc, err := nats.Connect(*natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to NATS: %v\n", err)
		os.Exit(1)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(*subject, func(m *nats.Msg) {
		var q quote
		if err := json.Unmarshal(m.Data, &q); err != nil {
			logger.Warn("malformed quote", "subject", m.Subject, "error", err)
			return
		}
		if q.Symbol == "" || q.Price == "" {
			logger.Warn("incomplete quote", "subject", m.Subject)
			return
		}
		f.push(q)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to subscribe: %v\n", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	logger.Info("price feeder running",
		"nats", *natsURL, "subject", *subject, "rpc", *rpcURL)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			logger.Info("feeder stats",
				"pushed", atomic.LoadUint64(&f.pushed),
				"failed", atomic.LoadUint64(&f.failed))
		case <-sigChan:
			logger.Info("shutting down",
				"pushed", atomic.LoadUint64(&f.pushed),
				"failed", atomic.LoadUint64(&f.failed))
			return
		}
	}
}
