package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/stoik/cex/services/webhook-sink/internal/sink"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}
	capacity := 100
	if v := os.Getenv("SINK_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logrus.Fatalf("invalid SINK_CAPACITY %q", v)
		}
		capacity = n
	}

	r := sink.NewRouter(sink.NewRecorder(capacity))

	addr := fmt.Sprintf(":%s", port)
	logrus.Infof("Starting webhook sink on %s (keeping last %d deliveries)", addr, capacity)
	logrus.Fatal(http.ListenAndServe(addr, r))
}
