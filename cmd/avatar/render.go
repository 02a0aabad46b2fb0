package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/logging"
	"github.com/heimdex/avatar-agent/internal/media"
	"github.com/heimdex/avatar-agent/internal/pipeline"
	"github.com/heimdex/avatar-agent/internal/voice"
)

type renderOptions struct {
	gender      string
	nationality string
	subtitles   bool
	captions    string
	jsonOut     bool
	quiet       bool
}

var renderOpts renderOptions

var renderCmd = &cobra.Command{
	Use:   "render TEXT IMAGE",
	Short: "Render one talking-head video",
	Long: `Render speaks TEXT in a voice chosen from --gender and --nationality,
animates the face found in IMAGE and writes video/final.mp4 inside a fresh
workspace under the work root.

--subtitles adds captions in the configured caption mode (soft when none is
configured); --captions picks the mode explicitly.`,
	Args: cobra.ExactArgs(2),
	RunE: runRender,
}

func init() {
	f := renderCmd.Flags()
	f.StringVarP(&renderOpts.gender, "gender", "g", voice.Female, "voice gender: male or female")
	f.StringVarP(&renderOpts.nationality, "nationality", "n", "", "speaker nationality, e.g. india or british")
	f.BoolVarP(&renderOpts.subtitles, "subtitles", "s", false, "add captions")
	f.StringVar(&renderOpts.captions, "captions", "", "caption mode: none, soft or burned")
	f.BoolVar(&renderOpts.jsonOut, "json", false, "print the result as JSON")
	f.BoolVarP(&renderOpts.quiet, "quiet", "q", false, "no progress bar")
	f.Bool("align", false, "align the face on its eye line before cropping")
	f.Float64("margin", 0, "crop margin around the face, as a fraction of its size")
	f.Bool("keep-failed", false, "keep the workspace of a failed render")

	_ = viper.BindPFlag("align", f.Lookup("align"))
	_ = viper.BindPFlag("margin", f.Lookup("margin"))
	_ = viper.BindPFlag("keep_failed_workspace", f.Lookup("keep-failed"))
}

// captionsFor resolves the caption flags against the configured mode.
func captionsFor(opts renderOptions, configured media.CaptionMode) (media.CaptionMode, error) {
	if opts.captions != "" {
		mode, err := media.ParseCaptionMode(opts.captions)
		if err != nil {
			return "", apperr.Input("parse --captions", err)
		}
		return mode, nil
	}
	if !opts.subtitles {
		return media.CaptionNone, nil
	}
	if configured == media.CaptionNone || configured == "" {
		return media.CaptionSoft, nil
	}
	return configured, nil
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(logging.FormatText)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.LogLevel(), cfg.LogFormat())

	mode, err := captionsFor(renderOpts, cfg.CaptionMode())
	if err != nil {
		return err
	}

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var obs pipeline.Observer
	if !renderOpts.quiet && !renderOpts.jsonOut {
		bar := progressbar.NewOptions(100,
			progressbar.OptionSetDescription("Rendering"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionClearOnFinish(),
		)
		obs = pipeline.ObserverFunc(func(ev pipeline.Event) {
			if ev.State == pipeline.StateFailed {
				bar.Exit()
				return
			}
			bar.Describe(ev.Stage)
			bar.Set(ev.Progress)
		})
	}

	res, err := st.orch.Run(cmd.Context(), pipeline.Request{
		Text:        args[0],
		ImagePath:   args[1],
		Gender:      renderOpts.gender,
		Nationality: renderOpts.nationality,
		Captions:    mode,
	}, obs)
	if err != nil {
		return err
	}

	if renderOpts.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(res)
	return nil
}

func printResult(res *pipeline.Result) {
	size := "?"
	if fi, err := os.Stat(res.Final); err == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	}
	rows := [][2]string{
		{"video", res.Final},
		{"size", size},
		{"voice", res.Voice},
		{"captions", string(res.Captions)},
		{"elapsed", res.Elapsed.Round(100 * time.Millisecond).String()},
	}
	if res.Subtitles != "" {
		rows = append(rows, [2]string{"subtitles", res.Subtitles})
	}
	if res.Face != nil && res.Face.FellBack {
		rows = append(rows, [2]string{"note", "alignment fell back to a centre crop"})
	}
	fmt.Println(banner("Render complete", rows))
}
