package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kursadbilgin/alarm-engine/internal/client"
)

func main() {
	var (
		baseURL    string
		receiverID string
		category   string
		priority   string
		title      string
		body       string
		relatedID  string
		status     bool
		timeout    time.Duration
	)

	flag.StringVar(&baseURL, "url", "http://localhost:8080", "alarm engine base url")
	flag.StringVar(&receiverID, "receiver", "", "receiving user id")
	flag.StringVar(&category, "category", "SYSTEM", "alarm category")
	flag.StringVar(&priority, "priority", "NORMAL", "alarm priority (NORMAL or HIGH)")
	flag.StringVar(&title, "title", "", "alarm title")
	flag.StringVar(&body, "body", "", "alarm body")
	flag.StringVar(&relatedID, "related", "", "related entity id")
	flag.BoolVar(&status, "status", false, "print connection status instead of sending an alarm")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	flag.Parse()

	c, err := client.New(baseURL)
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if status {
		conns, err := c.Connections(ctx)
		if err != nil {
			fail(err)
		}
		fmt.Printf("active=%d broker=%t\n", conns.Active, conns.Broker)
		return
	}

	result, err := c.Notify(ctx, client.AlarmRequest{
		ReceiverID: receiverID,
		Category:   category,
		Priority:   priority,
		Title:      title,
		Body:       body,
		RelatedID:  relatedID,
	})
	if err != nil {
		fail(err)
	}

	fmt.Printf("eventId=%s delivered=%t\n", result.EventID, result.Delivered)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "alarmctl:", err)
	if client.IsTransient(err) {
		os.Exit(2)
	}
	os.Exit(1)
}
