package types

import "log/slog"

const redacted = "***REDACTED***"

// SecretString holds a credential (bot token, database URL, JWT secret).
// fmt, encoding/json and slog all see a placeholder. Unmask is the only way
// to the raw value and belongs right where a client is constructed.
type SecretString string

func (s SecretString) String() string { return redacted }

func (s SecretString) GoString() string { return `types.SecretString("` + redacted + `")` }

func (s SecretString) LogValue() slog.Value { return slog.StringValue(redacted) }

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// IsSet reports whether a value was configured, without revealing it.
func (s SecretString) IsSet() bool { return s != "" }

func (s SecretString) Unmask() string { return string(s) }
