package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gopxl/beep/v2/speaker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reel/internal/config"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/player"
	"github.com/zsiec/reel/internal/sink"
	"github.com/zsiec/reel/internal/source"
)

const speakerLatency = 100 * time.Millisecond

func newPlayCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <uri>",
		Short: "Play a file, stdin (-) or an SRT stream",
		Long: `Play decodes every stream of the source and hands the units to the
render, audio and subtitle sinks. Send SIGUSR1 or type "p" and Enter to
toggle pause. Ctrl-C stops playback.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			snapshot, _ := cmd.Flags().GetString("snapshot")
			return play(cmd.Context(), args[0], cfg, snapshot, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int("queue-capacity", media.IngressQueueSize, "packets buffered per stream before the source blocks")
	cmd.Flags().Bool("paused", false, "start paused")
	cmd.Flags().Bool("audio", true, "play audio on the default output device")
	cmd.Flags().String("subtitle-empty", "clear", "empty subtitle events: clear or ignore")
	cmd.Flags().Bool("skip-unsupported", false, "drop audio and subtitle streams without a decoder")
	cmd.Flags().String("snapshot", "", "write the last rendered frame to this PNG file on exit")
	bindFlags(v, cmd, map[string]string{
		config.KeyQueueCapacity:   "queue-capacity",
		config.KeyStartPaused:     "paused",
		config.KeyAudioDevice:     "audio",
		config.KeySubtitleEmpty:   "subtitle-empty",
		config.KeySkipUnsupported: "skip-unsupported",
	})
	return cmd
}

func play(ctx context.Context, uri string, cfg config.Config, snapshot string, out io.Writer) error {
	log := slog.Default()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := source.Open(ctx, uri, sourceOptions(cfg))
	if err != nil {
		return err
	}

	render := sink.NewRender()
	subs := sink.NewSubtitle(cfg.SubtitleEmpty)

	var audio *sink.Audio
	opts := []player.Option{
		player.WithLogger(log),
		player.WithQueueCapacity(cfg.QueueCapacity),
		player.WithInitialPlaying(!cfg.StartPaused),
	}
	if cfg.SkipUnsupported {
		opts = append(opts, player.WithSkipUnsupported())
	}
	if info, ok := firstStream(src.Streams(), media.KindAudio); ok && cfg.AudioDevice {
		audio = newAudioSink(info, cfg.AudioBuffer)
		format := audio.Format()
		opts = append(opts, player.WithOutputInit(func() error {
			return speaker.Init(format.SampleRate, format.SampleRate.N(speakerLatency))
		}))
	}

	cb := player.Callbacks{
		OnFrame:    render.Offer,
		OnSubtitle: subs.Show,
		OnPlayingState: func(playing bool) {
			log.Info("transport", "playing", playing)
		},
		OnDecodeError: func(err error) {
			log.Debug("decode error", "error", err)
		},
	}
	if audio != nil {
		cb.OnAudio = audio.Write
	}

	p, err := player.Start(ctx, src, cb, opts...)
	if err != nil {
		src.Close()
		return err
	}
	if audio != nil {
		speaker.Play(audio)
		defer speaker.Close()
		defer audio.Close()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		toggles := make(chan os.Signal, 1)
		signal.Notify(toggles, syscall.SIGUSR1)
		defer signal.Stop(toggles)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-p.Done():
				return nil
			case <-toggles:
				p.TogglePausePlaying()
			}
		}
	})

	var last *media.VideoFrame
	var frames int64
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-p.Done():
				return nil
			case <-render.Frames():
				if f, ok := render.Latest(); ok {
					last = f
					frames++
				}
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-p.Done():
				return nil
			case <-subs.Updates():
				fmt.Fprintf(out, "[subtitle] %s\n", subs.Current())
			}
		}
	})

	if uri != "-" {
		go readToggles(os.Stdin, p)
	}

	err = g.Wait()
	closeErr := p.Close()

	st := p.Stats()
	log.Info("playback finished", "frames_rendered", frames, "routed", st.Routed, "ignored", st.Ignored)
	for _, s := range st.Streams {
		log.Info("stream stats", "stream", s.Name, "packets", s.Packets, "units", s.Units, "decode_errors", s.DecodeErrors)
	}
	if audio != nil {
		as := audio.Stats()
		log.Info("audio stats", "written", as.Written, "dropped", as.Dropped, "underruns", as.Underruns)
	}

	if snapshot != "" {
		if f, ok := render.Latest(); ok {
			last = f
		}
		if err := writeSnapshot(snapshot, last); err != nil {
			log.Warn("snapshot not written", "path", snapshot, "error", err)
		}
	}
	return errors.Join(err, closeErr)
}

func firstStream(infos []media.StreamInfo, kind media.StreamKind) (media.StreamInfo, bool) {
	for _, info := range infos {
		if info.Kind == kind {
			return info, true
		}
	}
	return media.StreamInfo{}, false
}

func newAudioSink(info media.StreamInfo, buffer time.Duration) *sink.Audio {
	channels := info.Channels
	if channels < 1 {
		channels = 2
	}
	rate := info.SampleRate
	if rate <= 0 {
		rate = 48000
	}
	capacity := int(int64(rate) * int64(channels) * buffer.Milliseconds() / 1000)
	return sink.NewAudio(capacity, channels, rate)
}

// readToggles toggles playback for every "p" line on r.
func readToggles(r io.Reader, p *player.Player) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if strings.EqualFold(strings.TrimSpace(sc.Text()), "p") {
			p.TogglePausePlaying()
		}
	}
}

func writeSnapshot(path string, f *media.VideoFrame) error {
	if f == nil {
		return errors.New("no frame rendered")
	}
	img, err := sink.Image(f)
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
