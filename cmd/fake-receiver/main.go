package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/signature"
)

// fake-receiver is a local webhook endpoint for exercising the delivery
// pipeline: it verifies signatures, optionally fails the first N requests
// to provoke retries, and logs everything it receives.

var reqCount atomic.Int64

func main() {
	cfg := config.FromEnv()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", handleHook(cfg.Receiver))

	srv := &http.Server{
		Addr:         cfg.Receiver.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Receiver.ReadTimeout,
		WriteTimeout: cfg.Receiver.WriteTimeout,
		IdleTimeout:  cfg.Receiver.IdleTimeout,
	}
	log.Printf("fake-receiver listening on %s", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}

func handleHook(cfg config.Receiver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := reqCount.Add(1)
		b, _ := io.ReadAll(r.Body)
		defer r.Body.Close()

		if cfg.ResponseDelay > 0 {
			time.Sleep(cfg.ResponseDelay)
		}

		if cfg.Secret != "" {
			sig := r.Header.Get(dispatch.HeaderSignature)
			if !signature.Verify(b, sig, []byte(cfg.Secret)) {
				log.Printf("fake-receiver signature mismatch event=%q delivery=%q",
					r.Header.Get(dispatch.HeaderEvent), r.Header.Get(dispatch.HeaderDelivery))
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
		}

		// Simulate flakiness: first N requests -> 500
		if n <= int64(cfg.FailFirstN) {
			log.Printf("FAILING (%d/%d) event=%q body=%s", n, cfg.FailFirstN,
				r.Header.Get(dispatch.HeaderEvent), truncate(string(b), 160))
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}

		log.Printf("fake-receiver OK event=%q delivery=%q body=%q",
			r.Header.Get(dispatch.HeaderEvent), r.Header.Get(dispatch.HeaderDelivery), truncate(string(b), 160))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`ok`))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
