package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/errsight/errsight/internal/bus"
	"github.com/errsight/errsight/internal/idgen"
	"github.com/errsight/errsight/internal/model"
)

var (
	emitSubject   string
	emitCategory  string
	emitURL       string
	emitMessage   string
	emitTrace     string
	emitTimestamp string
	emitNATSURL   string
	emitStream    string
	emitTopic     string
)

// emitCmd publishes a single well-formed error event to the bus, mainly for
// smoke-testing a deployment's consumer path.
var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Publish an error event to the bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		if emitNATSURL == "" {
			return fmt.Errorf("--nats-url or ERRSIGHT_NATS_URL is required")
		}

		ts := time.Now().UTC()
		if emitTimestamp != "" {
			parsed, err := time.Parse(time.RFC3339, emitTimestamp)
			if err != nil {
				return fmt.Errorf("invalid --timestamp: %w", err)
			}
			ts = parsed
		}

		payload := &model.EventCreate{
			Timestamp: ts,
			SubjectID: emitSubject,
			Category:  emitCategory,
			SourceURL: emitURL,
			Message:   emitMessage,
			Trace:     emitTrace,
		}
		if err := model.ValidateCreate(payload, time.Now().UTC()); err != nil {
			return err
		}

		producer, err := bus.NewJetStreamProducer(emitNATSURL, emitStream, emitTopic, "errsight-cli")
		if err != nil {
			return err
		}
		defer producer.Close()

		id, err := idgen.Generate()
		if err != nil {
			return err
		}
		if err := producer.PublishEvent(cmd.Context(), id, payload); err != nil {
			return err
		}

		fmt.Printf("published %s to %s\n", id, emitTopic)
		return nil
	},
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func init() {
	emitCmd.Flags().StringVar(&emitSubject, "subject", "", "subject id the error belongs to")
	emitCmd.Flags().StringVar(&emitCategory, "category", "", "error category")
	emitCmd.Flags().StringVar(&emitURL, "url", "", "source URL where the error occurred")
	emitCmd.Flags().StringVar(&emitMessage, "message", "", "error message")
	emitCmd.Flags().StringVar(&emitTrace, "trace", "", "stack trace")
	emitCmd.Flags().StringVar(&emitTimestamp, "timestamp", "", "event time (RFC 3339, default now)")
	emitCmd.Flags().StringVar(&emitNATSURL, "nats-url", os.Getenv("ERRSIGHT_NATS_URL"), "NATS server URL")
	emitCmd.Flags().StringVar(&emitStream, "stream", envDefault("ERRSIGHT_NATS_STREAM", "ERRSIGHT"), "JetStream stream name")
	emitCmd.Flags().StringVar(&emitTopic, "topic", envDefault("ERRSIGHT_TOPIC", "errsight.events"), "bus subject to publish on")
}
