// Command eventtail follows the transcription event topics and logs every
// event as it arrives.
package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"voice-transcriber-bot/internal/config"
	"voice-transcriber-bot/internal/events"
	"voice-transcriber-bot/internal/models"
	"voice-transcriber-bot/internal/observability/logging"
)

func main() {
	defaults := config.Defaults().Kafka
	brokers := pflag.StringSlice("brokers", []string{"localhost:9092"}, "Kafka brokers")
	topicCompleted := pflag.String("topic-completed", defaults.TopicCompleted, "Completed transcription topic")
	topicFailed := pflag.String("topic-failed", defaults.TopicFailed, "Failed transcription topic")
	since := pflag.Duration("since", time.Hour, "Start from messages written this long ago")
	pflag.Parse()

	lc := logging.DefaultConfig()
	lc.Format = "console"
	logging.Init(lc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Strs("brokers", *brokers).
		Str("topicCompleted", *topicCompleted).
		Str("topicFailed", *topicFailed).
		Msg("Following transcription events")

	var wg sync.WaitGroup
	for _, topic := range []string{*topicCompleted, *topicFailed} {
		reader, err := events.NewReader(ctx, *brokers, topic, *since)
		if err != nil {
			log.Fatal().Err(err).Str("topic", topic).Msg("Failed to open reader")
		}
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			defer reader.Close()
			if err := events.Tail(ctx, reader, printEvent); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("Stopped following topic")
			}
		}(topic)
	}
	wg.Wait()
}

func printEvent(event any) {
	switch e := event.(type) {
	case *models.TranscriptionCompleted:
		log.Info().
			Str("requestId", e.RequestID).
			Int64("chatId", e.ChatID).
			Int("audioDuration", e.AudioDuration).
			Str("strategy", e.Strategy).
			Float64("confidence", e.Confidence).
			Int64("elapsedMs", e.ElapsedMs).
			Int("words", e.Words).
			Msg("Completed")
	case *models.TranscriptionFailed:
		log.Warn().
			Str("requestId", e.RequestID).
			Int64("chatId", e.ChatID).
			Int("audioDuration", e.AudioDuration).
			Str("reason", e.Reason).
			Msg("Failed")
	}
}
