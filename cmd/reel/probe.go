package main

import (
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zsiec/reel/internal/config"
	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/source"
)

func sourceOptions(cfg config.Config) source.Options {
	return source.Options{
		Log:         slog.Default(),
		SRTLatency:  cfg.SRTLatency,
		DialTimeout: cfg.SRTDialTimeout,
		Captions:    cfg.Captions,
	}
}

func newProbeCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <uri>",
		Short: "List the streams of a file or SRT source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}

			src, err := source.Open(cmd.Context(), args[0], sourceOptions(cfg))
			if err != nil {
				return err
			}
			defer src.Close()

			reg := decode.NewRegistry()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tKIND\tCODEC\tDETAILS\tDECODER")
			for _, info := range src.Streams() {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", info.Index, info.Kind, info.Codec, details(info), decoderStatus(reg, info))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\ndecoders: %s\n", availableDecoders(reg))

			if r, ok := src.(source.StatsReporter); ok {
				st := r.Stats()
				fmt.Fprintf(cmd.OutOrStdout(), "\nread %d bytes in %d reads\n", st.BytesRead, st.ReadCount)
			}
			return nil
		},
	}
}

func details(info media.StreamInfo) string {
	switch info.Kind {
	case media.KindVideo:
		return fmt.Sprintf("%dx%d %s", info.Width, info.Height, info.PixelFormat)
	case media.KindAudio:
		return fmt.Sprintf("%d Hz, %d ch", info.SampleRate, info.Channels)
	}
	if info.Language != "" {
		return info.Language
	}
	return "-"
}

func decoderStatus(reg *decode.Registry, info media.StreamInfo) string {
	var err error
	switch info.Kind {
	case media.KindVideo:
		var d decode.VideoDecoder
		if d, err = reg.Video(info); err == nil {
			d.Close()
		}
	case media.KindAudio:
		var d decode.AudioDecoder
		if d, err = reg.Audio(info); err == nil {
			d.Close()
		}
	case media.KindSubtitle:
		var d decode.SubtitleDecoder
		if d, err = reg.Subtitle(info); err == nil {
			d.Close()
		}
	}
	if err != nil {
		return "none (" + err.Error() + ")"
	}
	return "built-in"
}

// availableDecoders lists the registered codecs per stream kind.
func availableDecoders(reg *decode.Registry) string {
	var parts []string
	for _, k := range []media.StreamKind{media.KindVideo, media.KindAudio, media.KindSubtitle} {
		parts = append(parts, k.String()+"="+strings.Join(reg.Codecs(k), ","))
	}
	return strings.Join(parts, " ")
}
