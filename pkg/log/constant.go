package log

const (
	ModeProduction  = "production"
	ModeDevelopment = "development"

	EncodingConsole = "console"
	EncodingJSON    = "json"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelFatal = "fatal"
)

// Config mirrors the LOGGER_* environment group.
type Config struct {
	Level        string
	Mode         string
	Encoding     string
	ColorEnabled bool
	Service      string
}
