package config

const (
	defaultStateDir  = "~/.local/share/swarmenc/state"
	defaultOutputDir = "~/.local/share/swarmenc/output"
	defaultLogDir    = "~/.local/share/swarmenc/logs"
	defaultWorkDir   = "~/.local/share/swarmenc/work"
	defaultBind      = "127.0.0.1:7899"
	defaultTarget    = "http://localhost:7899"
	defaultMinFrames = -1
	defaultMaxFrames = -1
	defaultWorkers   = 1
	defaultThreads   = 8
	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			WorkDir:   defaultWorkDir,
		},
		Server: Server{
			Bind:      defaultBind,
			MinFrames: defaultMinFrames,
			MaxFrames: defaultMaxFrames,
		},
		Worker: Worker{
			Target:  defaultTarget,
			Workers: defaultWorkers,
			Threads: defaultThreads,
			Aomenc:  "aomenc",
			Vpxenc:  "vpxenc",
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
			Dav1d:   "dav1d",
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
