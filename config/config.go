package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()

	// Set default avsync home directory
	v.SetDefault("avsync.home", filepath.Join(xdg.Home, ".avsync"))

	v.SetDefault("record.output_dir", xdg.UserDirs.Videos)
	v.SetDefault("record.format", "fmp4")
	v.SetDefault("record.fps", 30)
	v.SetDefault("record.report_dir", "") // resolved against avsync.home when empty

	v.SetDefault("mux.strict_interleave", false)
	v.SetDefault("mux.drain_on_stop", true)
	v.SetDefault("mux.diagnostics_path", "")

	v.SetDefault("render.decode_timeout", 500*time.Millisecond)
	v.SetDefault("render.encode_timeout", 2500*time.Millisecond)

	v.SetDefault("log.verbose", false)

	// Environment variables
	v.AutomaticEnv()
	v.BindEnv("avsync.home", "AVSYNC_HOME")
	v.BindEnv("record.output_dir", "AVSYNC_OUTPUT_DIR")
	v.BindEnv("record.format", "AVSYNC_FORMAT")
	v.BindEnv("record.fps", "AVSYNC_FPS")
	v.BindEnv("record.report_dir", "AVSYNC_REPORT_DIR")
	v.BindEnv("mux.strict_interleave", "AVSYNC_STRICT_INTERLEAVE")
	v.BindEnv("mux.drain_on_stop", "AVSYNC_DRAIN_ON_STOP")
	v.BindEnv("mux.diagnostics_path", "AVSYNC_DIAGNOSTICS_PATH")
	v.BindEnv("render.decode_timeout", "AVSYNC_DECODE_TIMEOUT")
	v.BindEnv("render.encode_timeout", "AVSYNC_ENCODE_TIMEOUT")
	v.BindEnv("log.verbose", "AVSYNC_VERBOSE")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Look for config in the following paths
	configPaths := []string{
		".",
		"$HOME/.avsync",
		"/etc/avsync",
	}

	for _, path := range configPaths {
		expandedPath := os.ExpandEnv(path)
		v.AddConfigPath(expandedPath)
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
	}
}

// GetHome returns the avsync home directory
func GetHome() string {
	return v.GetString("avsync.home")
}

// GetOutputDir returns the directory recordings are written to by default
func GetOutputDir() string {
	if dir := v.GetString("record.output_dir"); dir != "" {
		return dir
	}
	return filepath.Join(GetHome(), "recordings")
}

// GetReportDir returns the directory session reports are written to
func GetReportDir() string {
	if dir := v.GetString("record.report_dir"); dir != "" {
		return dir
	}
	return filepath.Join(GetHome(), "reports")
}

// GetFormat returns the default container format
func GetFormat() string {
	return v.GetString("record.format")
}

// GetFPS returns the frame rate assumed for elementary video streams
func GetFPS() int {
	return v.GetInt("record.fps")
}

// GetStrictInterleave reports whether the merge engine holds samples back
// until both queues have data
func GetStrictInterleave() bool {
	return v.GetBool("mux.strict_interleave")
}

// GetDrainOnStop reports whether queued samples are written after a stop
func GetDrainOnStop() bool {
	return v.GetBool("mux.drain_on_stop")
}

// GetDiagnosticsPath returns the sample trace log path, empty when disabled
func GetDiagnosticsPath() string {
	return v.GetString("mux.diagnostics_path")
}

// GetDecodeTimeout returns the frame wait timeout of the decode profile
func GetDecodeTimeout() time.Duration {
	return v.GetDuration("render.decode_timeout")
}

// GetEncodeTimeout returns the frame wait timeout of the encode profile
func GetEncodeTimeout() time.Duration {
	return v.GetDuration("render.encode_timeout")
}

// GetVerbose reports whether debug logging is enabled by configuration
func GetVerbose() bool {
	return v.GetBool("log.verbose")
}
