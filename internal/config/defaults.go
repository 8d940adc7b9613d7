package config

const (
	defaultEncoder   = "cjxl"
	defaultStateDir  = "~/.local/share/jxlpack/worklists"
	defaultLogDir    = "~/.local/share/jxlpack/logs"
	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

func defaultPNGArgs() []string {
	return []string{"--distance=0", "--effort=7"}
}

func defaultJPGArgs() []string {
	return []string{"--distance=0", "--effort=9", "--lossless_jpeg=1"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		DeleteFolder:      false,
		DeleteSourceImage: false,
		MakeZip:           true,
		SkipTrash:         false,
		PNGArgs:           defaultPNGArgs(),
		JPGArgs:           defaultJPGArgs(),
		Encoder:           defaultEncoder,
		Workers:           0,
		Exclude:           []string{},
		StateDir:          defaultStateDir,
		LogDir:            defaultLogDir,
		LogLevel:          defaultLogLevel,
		LogFormat:         defaultLogFormat,
	}
}
