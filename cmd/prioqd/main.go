// Command prioqd serves the concurrent priority queue over HTTP: lease
// acquisition, per-queue insert/extract/update/stats, and SSE subscription.
// Flag parsing, schema loading, and graceful shutdown follow the same
// pattern as a standard net/http server entrypoint.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jlinden-labs/prioq/internal/api"
	"github.com/jlinden-labs/prioq/internal/broadcast"
	"github.com/jlinden-labs/prioq/internal/payload"
	"github.com/jlinden-labs/prioq/internal/queue"
	"github.com/jlinden-labs/prioq/internal/queueset"
	"github.com/jlinden-labs/prioq/internal/registry"
)

func main() {
	portFlag := flag.String("p", "3318", "Port to listen on")
	schemaFlag := flag.String("s", "", "Name of file with JSON schema for queue payloads (optional)")
	nthreadsFlag := flag.Int("n", 32, "Maximum number of concurrent tid leases")
	maxLevelFlag := flag.Int("l", 16, "Maximum skiplist level for new queues")
	strategyFlag := flag.String("strategy", "A", "Extract-min strategy: A or B")
	flag.Parse()

	port, err := strconv.Atoi(*portFlag)
	if err != nil {
		log.Fatal(err)
	}

	var validator payload.Validator
	if *schemaFlag != "" {
		validator, err = payload.Compile(*schemaFlag)
		if err != nil {
			log.Fatal(err)
		}
	}

	strategy := queue.StrategyA
	if *strategyFlag == "B" {
		strategy = queue.StrategyB
	}

	leases := registry.New(*nthreadsFlag, time.Hour)
	hub := broadcast.NewHub()
	queues := queueset.NewSet(hub, queueset.Options{
		NThreads:        *nthreadsFlag,
		MaxLevel:        *maxLevelFlag,
		ExtractStrategy: strategy,
		EmptyPolicy:     queue.PolicyReturnEmpty,
	})

	mux := http.NewServeMux()
	mux.Handle("/v1/leases", leases.Middleware(registry.NewLeaseHandler(leases)))
	mux.Handle("/v1/queues/", leases.Middleware(api.NewServer(queues, hub, leases, validator)))

	server := http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	ctrlc := make(chan os.Signal, 1)
	signal.Notify(ctrlc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctrlc
		server.Close()
	}()

	slog.Info("prioqd listening", "port", port, "strategy", *strategyFlag, "nthreads", *nthreadsFlag)
	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		slog.Error("prioqd server closed", "error", err)
	} else {
		slog.Info("prioqd server closed")
	}
}
