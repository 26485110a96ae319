// Package csrf protects the credential forms with stateless, HMAC signed
// tokens bound to a per browser key.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

const (
	TextCodeTokenMissing  = "CSRF_TOKEN_MISSING"
	TextCodeTokenMismatch = "CSRF_TOKEN_MISMATCH"
	TextCodeTokenExpired  = "CSRF_TOKEN_EXPIRED"
)

var ErrTokenMissing = errors.New("CSRF token missing", errors.CategoryAuthz).
	WithTextCode(TextCodeTokenMissing).
	WithCode(errors.CodeForbidden)

var ErrTokenMismatch = errors.New("CSRF token mismatch", errors.CategoryAuthz).
	WithTextCode(TextCodeTokenMismatch).
	WithCode(errors.CodeForbidden)

var ErrTokenExpired = errors.New("CSRF token expired", errors.CategoryAuthz).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeForbidden)

const (
	DefaultTokenLength   = 32
	DefaultContextKey    = "csrf_token"
	DefaultFormFieldName = "_token"
	DefaultHeaderName    = "X-CSRF-Token"
)

// Config defines the configuration for the middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(router.Context) bool

	// SecureKey signs tokens, at least 32 bytes. A random key is generated
	// when empty, which invalidates tokens on restart.
	SecureKey []byte

	// SessionKey binds a token to one browser. Defaults to the client IP.
	SessionKey func(router.Context) string

	TokenLength   int
	ContextKey    string
	FormFieldName string
	HeaderName    string
	SafeMethods   []string
	Expiration    time.Duration

	// ErrorHandler receives ErrTokenMissing, ErrTokenMismatch or
	// ErrTokenExpired. Defaults to a 403 with a short text body.
	ErrorHandler router.ErrorHandler

	now func() time.Time
}

// New creates the middleware
func New(config ...Config) router.MiddlewareFunc {
	cfg := configDefault(config...)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return next(ctx)
			}

			sessionKey := cfg.SessionKey(ctx)

			if !slices.Contains(cfg.SafeMethods, strings.ToUpper(ctx.Method())) {
				if err := cfg.validate(ctx, sessionKey); err != nil {
					return cfg.ErrorHandler(ctx, err)
				}
			}

			token, err := cfg.generate(sessionKey)
			if err != nil {
				return err
			}

			ctx.Locals(cfg.ContextKey, token)
			ctx.Locals(cfg.ContextKey+"_field", cfg.FormFieldName)
			ctx.Locals(cfg.ContextKey+"_header", cfg.HeaderName)

			return next(ctx)
		}
	}
}

// Token returns the token stored under the default context key
func Token(ctx router.Context) string {
	token, _ := ctx.Locals(DefaultContextKey).(string)
	return token
}

// FieldName returns the form field the middleware reads the token from
func FieldName(ctx router.Context) string {
	if name, ok := ctx.Locals(DefaultContextKey + "_field").(string); ok && name != "" {
		return name
	}
	return DefaultFormFieldName
}

func (cfg Config) generate(sessionKey string) (string, error) {
	nonce := make([]byte, cfg.TokenLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	payload := fmt.Sprintf("%d:%s:%s", cfg.now().UTC().Unix(), hex.EncodeToString(nonce), hex.EncodeToString([]byte(sessionKey)))
	token := payload + ":" + hex.EncodeToString(cfg.sign(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func (cfg Config) validate(ctx router.Context, sessionKey string) error {
	received := ctx.FormValue(cfg.FormFieldName)
	if received == "" {
		received = ctx.Header(cfg.HeaderName)
	}
	if received == "" {
		return ErrTokenMissing
	}

	decoded, err := base64.RawURLEncoding.DecodeString(received)
	if err != nil {
		return ErrTokenMismatch
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 4 {
		return ErrTokenMismatch
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}

	signature, err := hex.DecodeString(parts[3])
	if err != nil {
		return ErrTokenMismatch
	}

	if !hmac.Equal(signature, cfg.sign(strings.Join(parts[:3], ":"))) {
		return ErrTokenMismatch
	}

	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(hex.EncodeToString([]byte(sessionKey)))) != 1 {
		return ErrTokenMismatch
	}

	if cfg.Expiration > 0 && cfg.now().UTC().After(time.Unix(timestamp, 0).Add(cfg.Expiration)) {
		return ErrTokenExpired
	}

	return nil
}

func (cfg Config) sign(payload string) []byte {
	mac := hmac.New(sha256.New, cfg.SecureKey)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}
	if cfg.Expiration == 0 {
		cfg.Expiration = 24 * time.Hour
	}
	if cfg.SessionKey == nil {
		cfg.SessionKey = func(ctx router.Context) string { return ctx.IP() }
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	cfg.SecureKey = initializeSecureKey(cfg.SecureKey)

	return cfg
}

func defaultErrorHandler(ctx router.Context, err error) error {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return ctx.Status(errors.CodeForbidden).SendString(richErr.Message)
	}
	return ctx.Status(errors.CodeForbidden).SendString("CSRF validation error")
}

func initializeSecureKey(current []byte) []byte {
	if len(current) > 0 {
		if len(current) < 32 {
			panic(fmt.Errorf("csrf: secure key must be at least 32 bytes, got %d", len(current)))
		}
		return current
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		panic(fmt.Errorf("csrf: unable to initialize secure key: %w", err))
	}
	return key
}
