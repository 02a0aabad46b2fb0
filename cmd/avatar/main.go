package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/config"
)

var configFile string

// settingKeys are the avatar.yaml keys forwarded to the env config. Each
// maps to AVATAR_<KEY IN UPPER CASE>.
var settingKeys = []string{
	"port", "log_level", "log_format", "api_token", "data_dir", "work_root", "inbox_dir", "headless",
	"speech_cache", "speech_cache_max_bytes", "edge_tts_rpm",
	"python", "vision_device", "dlib_models",
	"sadtalker_dir", "sadtalker_python", "sadtalker_checkpoints", "sadtalker_enhancer",
	"ffmpeg", "ffprobe", "edge_tts", "gtts", "rembg",
	"align", "captions", "margin", "keep_failed_workspace",
	"timeout_tts", "timeout_matting", "timeout_helper", "timeout_synthesis",
	"timeout_mux", "timeout_probe", "timeout_doctor",
}

var rootCmd = &cobra.Command{
	Use:           "avatar",
	Short:         "Render talking-head videos from a portrait and a script",
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return readConfigFile()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Version}} (%s, built %s)\n", config.GitCommit, config.BuildTime))

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default avatar.yaml in the user config dir)")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("log-format", "", "json or text")
	pf.String("data-dir", "", "directory for the job database, caches and uploads")
	pf.String("sadtalker-dir", "", "SadTalker checkout")

	_ = viper.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("log_format", pf.Lookup("log-format"))
	_ = viper.BindPFlag("data_dir", pf.Lookup("data-dir"))
	_ = viper.BindPFlag("sadtalker_dir", pf.Lookup("sadtalker-dir"))

	rootCmd.AddCommand(renderCmd, serveCmd, doctorCmd, voicesCmd)
}

func readConfigFile() error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		for _, dir := range config.ConfigDirs() {
			viper.AddConfigPath(dir)
		}
		viper.SetConfigName("avatar")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return apperr.Configuration("read config file", err)
	}
	return nil
}

// loadConfig layers the config file and flags over the environment.
// defaultFormat applies when neither names a log format.
func loadConfig(defaultFormat string) (*config.EnvConfig, error) {
	overrides := make(map[string]string)
	for _, key := range settingKeys {
		if viper.IsSet(key) {
			overrides[strings.ToUpper(key)] = viper.GetString(key)
		}
	}
	if _, ok := overrides["LOG_FORMAT"]; !ok && os.Getenv(config.EnvPrefix+"LOG_FORMAT") == "" {
		overrides["LOG_FORMAT"] = defaultFormat
	}
	return config.NewWithOverrides(overrides)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
		if out := apperr.OutputOf(err); out != "" {
			fmt.Fprintln(os.Stderr, dimStyle.Render(strings.TrimSpace(out)))
		}
		os.Exit(apperr.ExitCode(err))
	}
}
