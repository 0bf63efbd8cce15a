package logger

import (
	"go.uber.org/zap"
)

func URL(v string) zap.Field {
	return zap.String("url", v)
}

func Method(v string) zap.Field {
	return zap.String("method", v)
}

func Status(v int) zap.Field {
	return zap.Int("status", v)
}

func Stage(v string) zap.Field {
	return zap.String("stage", v)
}

func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Token logs a CSRF token with everything past the first four characters masked.
func Token(v string) zap.Field {
	return zap.String("token", Redact(v))
}

func Redact(v string) string {
	const keep = 4
	if v == "" {
		return ""
	}
	if len(v) <= keep {
		return "****"
	}
	return v[:keep] + "****"
}
