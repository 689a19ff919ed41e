// Command oggprobe prints the Opus header of an Ogg file and can run it
// through the recognition gateway, the same way the bot would.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"voice-transcriber-bot/internal/observability/logging"
	"voice-transcriber-bot/internal/observability/metrics"
	"voice-transcriber-bot/internal/service/audio"
	"voice-transcriber-bot/internal/service/ogg"
	"voice-transcriber-bot/internal/service/stt"
	"voice-transcriber-bot/internal/service/stt/google"
	"voice-transcriber-bot/internal/service/stt/mock"
)

func main() {
	recognize := pflag.Bool("recognize", false, "Transcribe the file after printing its header")
	provider := pflag.String("provider", "mock", "STT provider: google or mock")
	language := pflag.StringP("language", "l", "it-IT", "Recognition language code")
	sampleRate := pflag.Uint32("sample-rate", 0, "Force this sample rate instead of the header's")
	duration := pflag.Int("duration", 0, "Declared duration in seconds, used to pick the recognition strategy")
	timeout := pflag.Duration("timeout", stt.DefaultTimeout, "Recognition timeout")
	pflag.Parse()

	lc := logging.DefaultConfig()
	lc.Format = "console"
	logging.Init(lc)

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: oggprobe [flags] file.ogg")
		pflag.PrintDefaults()
		os.Exit(2)
	}
	path := pflag.Arg(0)

	head, err := ogg.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to read Opus header")
	}
	for _, f := range head.Fields() {
		fmt.Printf("%s: %s\n", f[0], f[1])
	}

	if !*recognize {
		return
	}

	var adapter stt.Adapter
	switch *provider {
	case "google":
		adapter, err = google.New(context.Background(), google.DefaultConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Google STT adapter")
		}
	case "mock":
		adapter = mock.New()
	default:
		log.Fatal().Str("provider", *provider).Msg("Unknown STT provider")
	}
	defer adapter.Close()

	cfg := stt.DefaultGatewayConfig()
	cfg.LanguageCode = *language
	cfg.Timeout = *timeout
	gateway := stt.NewGateway(adapter, cfg, metrics.DefaultMetrics)

	asset := audio.NewAsset(filepath.Base(path), path, *duration, audio.LocalSource{})
	asset.ForcedSampleRate = *sampleRate

	start := time.Now()
	result, err := gateway.Recognize(context.Background(), asset, stt.Options{})
	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Recognition failed")
		return
	}

	fmt.Printf("\nstrategy: %s\nsample rate: %d\nconfidence: %.2f\nelapsed: %s\n\n%s\n",
		result.Strategy, result.SampleRate, result.Confidence, result.Elapsed.Round(time.Millisecond), result.Transcript)
}
