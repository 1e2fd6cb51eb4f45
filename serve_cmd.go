package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/voicenexus/voicenexus/internal/audio"
	"github.com/voicenexus/voicenexus/internal/cluster"
	"github.com/voicenexus/voicenexus/internal/config"
	"github.com/voicenexus/voicenexus/internal/outputs"
	"github.com/voicenexus/voicenexus/internal/queue"
	"github.com/voicenexus/voicenexus/internal/sentiment"
	"github.com/voicenexus/voicenexus/internal/server"
	"github.com/voicenexus/voicenexus/internal/tts"
	"github.com/voicenexus/voicenexus/internal/tts/engines"
	"github.com/voicenexus/voicenexus/internal/voice"
)

const serviceName = "VoiceNexus TTS API"

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run a single synthesis instance",
	Long:    paragraph(fmt.Sprintf("\n%s a single synthesis instance. Requests are admitted into a bounded queue and synthesized one at a time.", keyword("Run"))),
	Example: paragraph("voicenexus serve\nvoicenexus serve --port 8080 --engine command"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := cluster.SignalContext(cmd.Context())
		defer stop()
		return runServe(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().String("host", "", "address to bind")
	serveCmd.Flags().IntP("port", "p", 0, "port to bind (PORT and BACKEND_PORT take precedence)")
	serveCmd.Flags().String("engine", "", "synthesis engine (mock, command)")
	serveCmd.Flags().Int("queue-size", 0, "maximum requests admitted at once")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("tts.engine", serveCmd.Flags().Lookup("engine"))
	_ = viper.BindPFlag("queue.max_size", serveCmd.Flags().Lookup("queue-size"))
}

// instance is one fully wired synthesis service.
type instance struct {
	server  *server.Server
	outputs *outputs.Store
	watcher *voice.Watcher
	engine  string
}

func (i *instance) close() {
	if i.watcher != nil {
		_ = i.watcher.Close()
	}
	if i.outputs != nil {
		if err := i.outputs.Close(); err != nil {
			log.Warn("Failed to close output store", "error", err)
		}
	}
}

func buildInstance(c config.Config) (*instance, error) {
	presets, err := voice.NewFileStore(c.Paths.Presets)
	if err != nil {
		return nil, err
	}
	personas, err := voice.NewFileStore(c.Paths.Personas)
	if err != nil {
		return nil, err
	}
	resolver := voice.NewResolver(presets, personas, c.Audio.AssetExtensions)
	catalog := voice.NewCatalog(presets, personas, resolver)
	uploader := voice.NewUploader(presets, resolver, catalog, c.Server.MaxUploadSize)

	inst := &instance{}
	if w, err := voice.NewWatcher(catalog, presets.Root(), personas.Root()); err != nil {
		log.Warn("Voice directory watching disabled", "error", err)
	} else {
		inst.watcher = w
	}

	ff := audio.NewFFmpeg(c.Audio.FFmpeg, audio.NewRunner(0))

	engine, err := engines.New(engines.Config{
		Engine: c.TTS.Engine,
		Mock: engines.MockConfig{
			Delay:      c.TTS.Mock.Delay,
			SampleRate: c.Audio.SampleRate,
		},
		Command: engines.CommandConfig{
			Binary:  c.TTS.Command.Binary,
			Args:    c.TTS.Command.Args,
			Timeout: c.TTS.Command.Timeout,
		},
	})
	if err != nil {
		inst.close()
		return nil, err
	}
	inst.engine = engine.Name()

	classifier := sentiment.New(sentiment.Config{
		Enabled:           c.Sentiment.Enabled,
		BaseURL:           c.Sentiment.BaseURL,
		APIKey:            c.Sentiment.APIKey,
		Model:             c.Sentiment.Model,
		Labels:            c.Sentiment.Labels,
		Timeout:           c.Sentiment.Timeout,
		RequestsPerMinute: c.Sentiment.RequestsPerMinute,
		CacheSize:         c.Sentiment.CacheSize,
	})
	if !classifier.Enabled() {
		log.Warn("Sentiment classification disabled, emotion auto uses the default emotion")
	}

	controller, err := tts.NewController(tts.ControllerConfig{
		SampleRate:        c.Audio.SampleRate,
		MaxTextLength:     c.Audio.MaxTextLength,
		SynthesisTimeout:  c.TTS.SynthesisTimeout,
		ClassifierTimeout: c.Sentiment.Timeout,
	}, queue.New(c.Queue.MaxSize), resolver, engine,
		tts.WithClassifier(classifier),
		tts.WithPostProcessor(audio.NewProcessor(ff)),
	)
	if err != nil {
		inst.close()
		return nil, err
	}

	store, err := outputs.Open(c.Paths.Outputs, c.Outputs.Capacity, c.Outputs.CompressionLevel)
	if err != nil {
		inst.close()
		return nil, fmt.Errorf("unable to open output store: %w", err)
	}
	inst.outputs = store

	srv, err := server.New(server.Config{
		Service:    serviceName,
		Version:    Version,
		Controller: controller,
		Catalog:    catalog,
		Uploader:   uploader,
		Encoder:    audio.NewEncoder(ff),
		Outputs:    store,
	})
	if err != nil {
		inst.close()
		return nil, err
	}
	inst.server = srv
	return inst, nil
}

func runServe(ctx context.Context, c config.Config) error {
	inst, err := buildInstance(c)
	if err != nil {
		return err
	}
	defer inst.close()

	if inst.watcher != nil {
		go inst.watcher.Run(ctx)
	}

	log.Info("Starting instance",
		"addr", c.Addr(),
		"engine", inst.engine,
		"max_queue_size", c.Queue.MaxSize,
		"presets", c.Paths.Presets,
		"personas", c.Paths.Personas)
	return inst.server.ListenAndServe(ctx, c.Addr())
}
