package notify

import (
	"context"
	"log"
)

// LogGateway writes notifications to the process log instead of delivering
// them. Used when SMTP is not configured so local runs still show fan-out.
type LogGateway struct{}

func (LogGateway) Send(_ context.Context, recipientID, title string, payload Payload) error {
	log.Printf("notify: %s -> %s (%s)", payload.Kind, recipientID, title)
	return nil
}
