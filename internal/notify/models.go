// Package notify delivers debounced webhook notifications for tagged bark
// events without blocking the detection pipeline.
package notify

import (
	"fmt"
	"time"
)

// Event is an immutable, notification-ready bark event with dog context
// already resolved. No store queries happen downstream of this snapshot.
type Event struct {
	Timestamp time.Time

	Probability float64
	DOADegrees  *int

	DogID           *string
	DogName         *string
	MatchConfidence *float64

	EvidenceFilename *string
}

// WebhookPayload is the JSON body delivered to a custom webhook URL.
type WebhookPayload struct {
	Event      string           `json:"event"`
	Timestamp  string           `json:"timestamp"`
	Dog        webhookDog       `json:"dog"`
	Detection  webhookDetection `json:"detection"`
	Evidence   *string          `json:"evidence_file,omitempty"`
}

type webhookDog struct {
	ID         *string  `json:"id"`
	Name       string   `json:"name"`
	Confidence *float64 `json:"confidence"`
}

type webhookDetection struct {
	Probability      float64 `json:"probability"`
	DirectionDegrees *int    `json:"direction_degrees"`
}

// ToWebhookPayload formats the event for custom webhook delivery.
func (e Event) ToWebhookPayload() WebhookPayload {
	name := "Unknown"
	if e.DogName != nil {
		name = *e.DogName
	}

	var confidence *float64
	if e.MatchConfidence != nil {
		rounded := roundTo(*e.MatchConfidence, 3)
		confidence = &rounded
	}

	return WebhookPayload{
		Event:     "bark_detected",
		Timestamp: e.Timestamp.Format(time.RFC3339),
		Dog: webhookDog{
			ID:         e.DogID,
			Name:       name,
			Confidence: confidence,
		},
		Detection: webhookDetection{
			Probability:      roundTo(e.Probability, 3),
			DirectionDegrees: e.DOADegrees,
		},
		Evidence: e.EvidenceFilename,
	}
}

// ToIFTTTValues formats the event for IFTTT Maker Webhooks.
func (e Event) ToIFTTTValues() map[string]string {
	name := "Unknown Dog"
	if e.DogName != nil {
		name = *e.DogName
	}

	return map[string]string{
		"value1": name,
		"value2": e.Timestamp.Format("2006-01-02 15:04:05"),
		"value3": fmt.Sprintf("%d%% confidence", int(roundTo(e.Probability*100, 0))),
	}
}

func roundTo(v float64, places int) float64 {
	mul := 1.0
	for i := 0; i < places; i++ {
		mul *= 10
	}
	return float64(int(v*mul+0.5)) / mul
}
