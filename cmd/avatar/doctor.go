package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/heimdex/avatar-agent/internal/logging"
	"github.com/heimdex/avatar-agent/internal/pipelines"
	"github.com/heimdex/avatar-agent/internal/voice"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the external tools a render needs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(logging.FormatText)
		if err != nil {
			return err
		}
		logger := logging.NewLogger(cfg.LogLevel(), cfg.LogFormat())
		inv := pipelines.NewRunner(logger, false)

		caps, err := newDoctor(cfg, inv, logger).Refresh(cmd.Context())
		if err != nil {
			return err
		}
		if doctorJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(caps)
		}
		fmt.Println(doctorReport(caps))
		return nil
	},
}

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List the voice chosen for each nationality and gender",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var b strings.Builder
		fmt.Fprintf(&b, "%s%s%s\n", keyStyle.Render("NATIONALITY"), keyStyle.Render("GENDER"), titleStyle.Render("VOICE"))
		for _, e := range voice.Voices() {
			fmt.Fprintf(&b, "%s%s%s\n", keyStyle.Render(e.Nationality), keyStyle.Render(e.Gender), e.Voice)
		}
		fmt.Print(b.String())
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print the probe result as JSON")
}

func doctorReport(caps *pipelines.Capabilities) string {
	names := make([]string, 0, len(caps.Tools))
	for name := range caps.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var rows [][2]string
	for _, name := range names {
		t := caps.Tools[name]
		detail := t.Path
		if !t.Available {
			detail = t.Error
		}
		rows = append(rows, [2]string{name, mark(t.Available) + "  " + dimStyle.Render(detail)})
	}
	rows = append(rows,
		[2]string{"subtitles", mark(caps.SubtitlesFilter) + "  " + dimStyle.Render("ffmpeg subtitles filter, needed to burn captions")},
		[2]string{"libx264", mark(caps.LibX264) + "  " + dimStyle.Render("needed to burn captions")},
		[2]string{"vision", mark(caps.VisionHelper) + "  " + dimStyle.Render("face_recognition and face_alignment importable")},
		[2]string{"sadtalker", mark(caps.SadTalker)},
	)

	avail := 0
	for _, t := range caps.Tools {
		if t.Available {
			avail++
		}
	}
	title := fmt.Sprintf("Doctor: %d/%d tools found, probed %s", avail, len(caps.Tools), humanize.Time(caps.ProbedAt))
	return banner(title, rows)
}
