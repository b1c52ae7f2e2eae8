package sessiongate

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/MrEthical07/sessiongate/cookie"
)

// Config is the full engine configuration. Start from [DefaultConfig] and override fields;
// [Config.Validate] runs during [Builder.Build].
type Config struct {
	Cookie    CookieConfig
	Session   SessionConfig
	Handshake HandshakeConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig controls the identity cookie pair. Secrets[0] signs; every secret verifies,
// which allows rotation without logging everybody out. The session cookie is always scoped
// to "/"; Path applies to the device cookie.
type CookieConfig struct {
	SessionName string `validate:"required,cookie_name"`
	DeviceName  string `validate:"required,cookie_name,nefield=SessionName"`
	Path        string `validate:"required,startswith=/"`
	Domain      string `validate:"omitempty,printascii"`
	Secure      bool
	SameSite    http.SameSite
	Secrets     [][]byte `validate:"required,min=1,dive,min=32"`

	// DeviceMaxAge is the device cookie lifetime. Zero issues a browser-session cookie.
	DeviceMaxAge time.Duration `validate:"gte=0"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls record lifetime and store access.
type SessionConfig struct {
	RedisPrefix string `validate:"required,printascii"`

	// TTL is the rolling window; every HTTP request moves expiry to now+TTL.
	TTL time.Duration `validate:"gte=1s"`

	// AbsoluteLifetime caps a record's age regardless of activity. Zero disables the cap.
	AbsoluteLifetime time.Duration `validate:"gte=0"`

	// StoreTimeout bounds every single store call.
	StoreTimeout time.Duration `validate:"gt=0"`
}

// HandshakeConfig controls persistent-connection authentication.
type HandshakeConfig struct {
	// ExposeRejectReason sends the internal reason code in the close frame. Keep it off in
	// production.
	ExposeRejectReason bool

	// RequireDeviceMatch rejects handshakes whose device id differs from the session user.
	RequireDeviceMatch bool
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int `validate:"gte=0"`
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a configuration with every default applied. Cookie.Secrets is left
// empty and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Cookie: CookieConfig{
			SessionName: "sg_session",
			DeviceName:  "sg_device",
			Path:        "/",
			Secure:      true,
			SameSite:    http.SameSiteLaxMode,
		},
		Session: SessionConfig{
			RedisPrefix:      "sg",
			TTL:              8 * time.Hour,
			AbsoluteLifetime: 7 * 24 * time.Hour,
			StoreTimeout:     2 * time.Second,
		},
		Handshake: HandshakeConfig{
			ExposeRejectReason: false,
			RequireDeviceMatch: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Cookie.Secrets != nil {
		out.Cookie.Secrets = make([][]byte, len(cfg.Cookie.Secrets))
		for i, s := range cfg.Cookie.Secrets {
			out.Cookie.Secrets[i] = cloneBytes(s)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks struct tags and the cross-field rules that tags cannot express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("cookie_name", validateCookieName); err != nil {
		return fmt.Errorf("failed to register cookie_name validator: %w", err)
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	switch c.Cookie.SameSite {
	case http.SameSiteDefaultMode, http.SameSiteLaxMode, http.SameSiteStrictMode:
	case http.SameSiteNoneMode:
		if !c.Cookie.Secure {
			return errors.New("Cookie.SameSite=None requires Cookie.Secure")
		}
	default:
		return errors.New("Cookie.SameSite is not a known mode")
	}

	if c.Session.AbsoluteLifetime > 0 && c.Session.AbsoluteLifetime < c.Session.TTL {
		return errors.New("Session.AbsoluteLifetime must be 0 or >= Session.TTL")
	}
	if c.Session.StoreTimeout >= c.Session.TTL {
		return errors.New("Session.StoreTimeout must be shorter than Session.TTL")
	}

	return nil
}

func validateCookieName(fl validator.FieldLevel) bool {
	return (&http.Cookie{Name: fl.Field().String(), Value: "v"}).Valid() == nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, formatSingleValidationError(e))
	}
	return errors.New(strings.Join(messages, "; "))
}

func formatSingleValidationError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "cookie_name":
		return fmt.Sprintf("%s must be a valid cookie name", field)
	case "nefield":
		return fmt.Sprintf("%s must differ from %s", field, e.Param())
	case "min":
		if strings.Contains(field, "Secrets[") {
			return fmt.Sprintf("%s must be at least %d bytes", field, cookie.MinSecretLength)
		}
		return fmt.Sprintf("%s must have at least %s items", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be > %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}
