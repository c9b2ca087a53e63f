// Package config loads core.AuthConfig from the environment and optional .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	core "github.com/PaulFidika/tokengate/core"
	jwtkit "github.com/PaulFidika/tokengate/jwt"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Env is the raw environment form of the auth configuration. Lists are ';'-separated.
type Env struct {
	Mode   string `env:"AUTH_MODE,default=jwks"`
	KeyURL string `env:"AUTH_KEY_URL"`

	SecretKey      string `env:"AUTH_SECRET_KEY"`
	PublicKeyPEM   string `env:"AUTH_PUBLIC_KEY_PEM"`
	PublicKeyFile  string `env:"AUTH_PUBLIC_KEY_FILE"`
	PrivateKeyPEM  string `env:"AUTH_PRIVATE_KEY_PEM"`
	PrivateKeyFile string `env:"AUTH_PRIVATE_KEY_FILE"`
	KeyID          string `env:"AUTH_KEY_ID"`

	SigningAlgorithm  string        `env:"AUTH_SIGNING_ALGORITHM"`
	Algorithms        []string      `env:"AUTH_ALGORITHMS,default=RS256"`
	Issuer            []string      `env:"AUTH_ISSUER"`
	Audience          []string      `env:"AUTH_AUDIENCE"`
	ClockTolerance    time.Duration `env:"AUTH_CLOCK_TOLERANCE,default=0s"`
	RequireExpiration bool          `env:"AUTH_REQUIRE_EXPIRATION,default=false"`

	BearerPrefix      string   `env:"AUTH_BEARER_PREFIX,default=Bearer"`
	QueryParamName    string   `env:"AUTH_QUERY_PARAM,default=passtk"`
	DefaultTokenType  string   `env:"AUTH_DEFAULT_TOKEN_TYPE,default=header_then_query"`
	AllowedTokenTypes []string `env:"AUTH_ALLOWED_TOKEN_TYPES,default=header;query;header_then_query"`

	TokenLifespanMinutes   int    `env:"AUTH_TOKEN_LIFESPAN_MINUTES,default=60"`
	AllowNonExpiringTokens bool   `env:"AUTH_ALLOW_NON_EXPIRING_TOKENS,default=false"`
	ComponentIdentity      string `env:"AUTH_COMPONENT_IDENTITY,default=tokengate"`

	KeyCacheTTL           time.Duration `env:"AUTH_KEY_CACHE_TTL,default=1h"`
	KeyCachePurgeSchedule string        `env:"AUTH_KEY_CACHE_PURGE_SCHEDULE"`
	JWKSFetchTimeout      time.Duration `env:"AUTH_JWKS_FETCH_TIMEOUT,default=5s"`
}

// LoadDotEnv loads each existing file into the process environment without overriding
// variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// DecodeEnv reads Env from the process environment.
func DecodeEnv() (Env, error) {
	var e Env
	if err := envdecode.Decode(&e); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Env{}, err
	}
	return e, nil
}

// Load reads .env files (if present) and the environment and returns a validated config.
// Every error wraps core.ErrConfiguration.
func Load(dotenvPaths ...string) (core.AuthConfig, error) {
	if err := LoadDotEnv(dotenvPaths...); err != nil {
		return core.AuthConfig{}, fmt.Errorf("%w: %v", core.ErrConfiguration, err)
	}
	e, err := DecodeEnv()
	if err != nil {
		return core.AuthConfig{}, fmt.Errorf("%w: %v", core.ErrConfiguration, err)
	}
	cfg, err := e.AuthConfig()
	if err != nil {
		return core.AuthConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return core.AuthConfig{}, err
	}
	return cfg, nil
}

// AuthConfig converts the raw values, reading key material from inline PEM or files.
func (e Env) AuthConfig() (core.AuthConfig, error) {
	cfg := core.DefaultAuthConfig()
	fail := func(format string, args ...any) (core.AuthConfig, error) {
		return core.AuthConfig{}, fmt.Errorf("%w: "+format, append([]any{core.ErrConfiguration}, args...)...)
	}

	switch core.AuthMode(strings.ToLower(strings.TrimSpace(e.Mode))) {
	case core.ModeJWKS:
		cfg.AuthMode = core.ModeJWKS
	case core.ModeStatic:
		cfg.AuthMode = core.ModeStatic
	default:
		return fail("unknown AUTH_MODE %q", e.Mode)
	}
	cfg.KeyURL = strings.TrimSpace(e.KeyURL)
	if e.SecretKey != "" {
		cfg.SecretKey = []byte(e.SecretKey)
	}

	pubPEM, err := inlineOrFile(e.PublicKeyPEM, e.PublicKeyFile)
	if err != nil {
		return fail("public key: %v", err)
	}
	if len(pubPEM) > 0 {
		if cfg.PublicKey, err = jwtkit.ParsePublicKeyPEM(pubPEM); err != nil {
			return fail("public key: %v", err)
		}
	}
	privPEM, err := inlineOrFile(e.PrivateKeyPEM, e.PrivateKeyFile)
	if err != nil {
		return fail("private key: %v", err)
	}
	if len(privPEM) > 0 {
		if cfg.PrivateKey, err = jwtkit.ParsePrivateKeyPEM(privPEM); err != nil {
			return fail("private key: %v", err)
		}
	}
	cfg.KeyID = e.KeyID
	cfg.SigningAlgorithm = e.SigningAlgorithm

	cfg.Verify = core.VerifyOptions{
		Algorithms:        trimAll(e.Algorithms),
		Issuer:            trimAll(e.Issuer),
		Audience:          trimAll(e.Audience),
		ClockTolerance:    e.ClockTolerance,
		RequireExpiration: e.RequireExpiration,
	}

	cfg.BearerPrefix = e.BearerPrefix
	cfg.QueryParamName = e.QueryParamName
	if cfg.DefaultTokenType, err = core.ParseTokenType(e.DefaultTokenType); err != nil {
		return core.AuthConfig{}, err
	}
	cfg.AllowedTokenTypes = nil
	for _, s := range trimAll(e.AllowedTokenTypes) {
		tt, err := core.ParseTokenType(s)
		if err != nil {
			return core.AuthConfig{}, err
		}
		cfg.AllowedTokenTypes = append(cfg.AllowedTokenTypes, tt)
	}

	cfg.TokenLifespanMinutes = e.TokenLifespanMinutes
	cfg.AllowNonExpiringTokens = e.AllowNonExpiringTokens
	cfg.ComponentIdentity = e.ComponentIdentity
	cfg.KeyCacheTTL = e.KeyCacheTTL
	cfg.KeyCachePurgeSchedule = e.KeyCachePurgeSchedule
	cfg.JWKSFetchTimeout = e.JWKSFetchTimeout
	return cfg, nil
}

func inlineOrFile(inline, path string) ([]byte, error) {
	if inline != "" && path != "" {
		return nil, errors.New("set the inline PEM or the file, not both")
	}
	if inline != "" {
		// single-line env values often carry literal \n
		return []byte(strings.ReplaceAll(inline, `\n`, "\n")), nil
	}
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
