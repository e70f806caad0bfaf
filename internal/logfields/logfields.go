package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeySubsystem    = "subsystem"
	KeyPhase        = "phase"
	KeyConfigDir    = "config_dir"
	KeyEntryCount   = "entry_count"
	KeyIndexVersion = "index_version"
	KeyGeneration   = "generation"
	KeyEventType    = "event_type"
	KeyClients      = "clients"
	KeyAddress      = "address"
	KeyFile         = "file"
	KeyMethod       = "method"
	KeyPath         = "path"
	KeyStatus       = "status"
	KeyUserAgent    = "user_agent"
	KeyRemoteAddr   = "remote_addr"
	KeyDurationMS   = "duration_ms"
	KeySink         = "sink"
	KeyError        = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Subsystem(name string) slog.Attr { return slog.String(KeySubsystem, name) }
func Phase(p string) slog.Attr        { return slog.String(KeyPhase, p) }
func ConfigDir(dir string) slog.Attr  { return slog.String(KeyConfigDir, dir) }
func EntryCount(n int) slog.Attr      { return slog.Int(KeyEntryCount, n) }
func IndexVersion(v int) slog.Attr    { return slog.Int(KeyIndexVersion, v) }
func Generation(g uint64) slog.Attr   { return slog.Uint64(KeyGeneration, g) }
func EventType(t string) slog.Attr    { return slog.String(KeyEventType, t) }
func Clients(n int) slog.Attr         { return slog.Int(KeyClients, n) }
func Address(a string) slog.Attr      { return slog.String(KeyAddress, a) }
func File(p string) slog.Attr         { return slog.String(KeyFile, p) }
func Method(m string) slog.Attr       { return slog.String(KeyMethod, m) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Status(code int) slog.Attr       { return slog.Int(KeyStatus, code) }
func UserAgent(ua string) slog.Attr   { return slog.String(KeyUserAgent, ua) }
func RemoteAddr(a string) slog.Attr   { return slog.String(KeyRemoteAddr, a) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Sink(name string) slog.Attr      { return slog.String(KeySink, name) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
