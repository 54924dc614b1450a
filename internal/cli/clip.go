package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dvcrn/kickclip/internal/plugin"
	"github.com/dvcrn/kickclip/internal/publish"
)

var (
	clipChannel  string
	clipDuration int
	clipTitle    string
	clipAnnounce bool
)

var clipCmd = &cobra.Command{
	Use:   "clip",
	Short: "Create a clip of a live channel, as a Stream Deck press would",
	Args:  cobra.NoArgs,
	RunE:  runClip,
}

func init() {
	clipCmd.Flags().StringVar(&clipChannel, "channel", "", "channel slug (defaults to default_channel)")
	clipCmd.Flags().IntVar(&clipDuration, "duration", plugin.DefaultClipDuration, "clip length in seconds (1-60)")
	clipCmd.Flags().StringVar(&clipTitle, "title", "", "clip title")
	clipCmd.Flags().BoolVar(&clipAnnounce, "announce", false, "post the clip link to chat")
	rootCmd.AddCommand(clipCmd)
}

// printSink writes each status label as its own line.
type printSink struct {
	out io.Writer
}

func (p printSink) SetTitle(_ string, title string) error {
	_, err := fmt.Fprintf(p.out, "→ %s\n", title)
	return err
}

func runClip(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	settings := plugin.Settings{
		ChannelSlug:    clipChannel,
		ClipDuration:   clipDuration,
		ClipTitle:      clipTitle,
		AutoPostToChat: clipAnnounce,
	}
	if settings.ChannelSlug == "" {
		settings.ChannelSlug = a.Config.DefaultChannel
	}
	settings = settings.Normalize()
	if settings.ChannelSlug == "" {
		return fmt.Errorf("no channel given: pass --channel or set default_channel")
	}

	out := cmd.OutOrStdout()
	orch := a.NewOrchestrator(printSink{out: out})
	defer orch.Close()

	run, err := orch.Run(cmd.Context(), "cli", settings.PublishRequest())
	if err != nil {
		return err
	}
	if run.State != publish.Succeeded {
		return fmt.Errorf("%s: %w", run.Label, run.Err)
	}
	if run.Clip != nil && run.Clip.URL != "" {
		fmt.Fprintln(out, run.Clip.URL)
	}
	return nil
}
