package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mirkobrombin/go-tasklock/v1/client"
	"github.com/mirkobrombin/go-tasklock/v1/notify"
)

var (
	url      = flag.String("url", "ws://localhost:8080/ws", "Push channel endpoint")
	token    = flag.String("token", os.Getenv("TASKLOCK_TOKEN"), "Access token (defaults to $TASKLOCK_TOKEN)")
	interval = flag.Duration("retry-interval", client.DefaultRetryInterval, "Pause between reconnection attempts")
	attempts = flag.Uint64("retry-attempts", client.DefaultMaxAttempts, "Reconnection attempts before giving up")
	raw      = flag.Bool("raw", false, "Print payloads as received")
)

func main() {
	flag.Parse()
	if *token == "" {
		log.Fatal("a token is required: pass -token or set TASKLOCK_TOKEN")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(*url, *token, client.WithRetry(*interval, *attempts))
	err := c.Run(ctx, func(m notify.Message) {
		ts := m.Timestamp.Local().Format(time.TimeOnly)
		if *raw {
			fmt.Printf("%s %-14s %s\n", ts, m.Type, m.Payload)
			return
		}
		fmt.Printf("%s %-14s %s\n", ts, m.Type, summary(m))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("watch: %v", err)
	}
}
