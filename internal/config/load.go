package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POSTBOX_"

// Error is a configuration problem, with the source position when known.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

type loadOptions struct {
	lookup  LookupFunc
	dotenv  string
	missing bool // tolerate a missing config file
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithLookup replaces os.LookupEnv.
func WithLookup(fn LookupFunc) LoadOption {
	return func(o *loadOptions) { o.lookup = fn }
}

// WithDotenv reads fallback variables from path. A missing file is ignored.
func WithDotenv(path string) LoadOption {
	return func(o *loadOptions) { o.dotenv = path }
}

// AllowMissing treats a missing config file as empty.
func AllowMissing() LoadOption {
	return func(o *loadOptions) { o.missing = true }
}

// Load reads the YAML file at path (optional when empty), applies
// environment overrides and validates the result.
func Load(path string, opts ...LoadOption) (Config, error) {
	o := loadOptions{lookup: os.LookupEnv, dotenv: ".env"}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && o.missing:
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := Parse(path, data, &cfg); err != nil {
				return Config{}, err
			}
		}
	}

	lookup := o.lookup
	if o.dotenv != "" {
		dot, err := godotenv.Read(o.dotenv)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", o.dotenv, err)
		}
		lookup = withFallback(o.lookup, dot)
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse checks data against the schema, reporting positions in the YAML
// source, and decodes it over cfg.
func Parse(filename string, data []byte, cfg *Config) error {
	ctx := cuecontext.New()
	schema, err := compileSchema(ctx)
	if err != nil {
		return err
	}
	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return &Error{Field: "yaml", Message: err.Error()}
	}
	if err := check(schema.Unify(ctx.BuildFile(file))); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return &Error{Field: "yaml", Message: err.Error()}
	}
	return nil
}

// Validate checks a fully merged config against the schema and the rules
// the schema cannot express.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema, err := compileSchema(ctx)
	if err != nil {
		return err
	}
	if err := check(schema.Unify(ctx.Encode(cfg))); err != nil {
		return err
	}
	return cfg.Check()
}

func compileSchema(ctx *cue.Context) (cue.Value, error) {
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile config schema: %w", err)
	}
	return v.LookupPath(cue.ParsePath("#Config")), nil
}

// check reports the first schema violation with its position.
func check(v cue.Value) error {
	err := v.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	e := &Error{
		Field:   strings.Join(first.Path(), "."),
		Message: fmt.Sprintf(format, args...),
	}
	for _, p := range cueerrors.Positions(first) {
		if p.Filename() != "schema.cue" {
			e.Pos = p
			break
		}
	}
	return e
}

func withFallback(primary LookupFunc, fallback map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}

// applyEnv copies POSTBOX_* variables over cfg. The bare TELEGRAM_BOT_TOKEN
// and GITHUB_TOKEN names are honoured when the prefixed ones are unset.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	num := func(dst *int, key string) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return &Error{Field: key, Message: fmt.Sprintf("not an integer: %q", v)}
		}
		*dst = n
		return nil
	}

	str(&cfg.Actor, EnvPrefix+"ACTOR")
	str(&cfg.Store.Backend, EnvPrefix+"STORE_BACKEND")
	str(&cfg.Store.Path, EnvPrefix+"STORE_PATH")
	str(&cfg.Store.GitHub.Owner, EnvPrefix+"GITHUB_OWNER")
	str(&cfg.Store.GitHub.Repo, EnvPrefix+"GITHUB_REPO")
	str(&cfg.Store.GitHub.Branch, EnvPrefix+"GITHUB_BRANCH")
	str(&cfg.Store.GitHub.Token, EnvPrefix+"GITHUB_TOKEN", "GITHUB_TOKEN")
	str(&cfg.Store.GitHub.APIURL, EnvPrefix+"GITHUB_API_URL")
	str(&cfg.Telegram.Token, EnvPrefix+"TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN")
	str(&cfg.Telegram.APIURL, EnvPrefix+"TELEGRAM_API_URL")
	str(&cfg.Server.Addr, EnvPrefix+"SERVER_ADDR")
	str(&cfg.Logging.Level, EnvPrefix+"LOG_LEVEL")
	str(&cfg.Logging.Format, EnvPrefix+"LOG_FORMAT")
	str(&cfg.Site.PostsDir, EnvPrefix+"POSTS_DIR")

	for key, dst := range map[string]*int{
		EnvPrefix + "ARCHIVE_MAX_ACTIVE":   &cfg.Archive.MaxActive,
		EnvPrefix + "ARCHIVE_MAX_AGE_DAYS": &cfg.Archive.MaxAgeDays,
	} {
		if err := num(dst, key); err != nil {
			return err
		}
	}

	if v, ok := lookup(EnvPrefix + "TELEGRAM_CHATS"); ok && v != "" {
		var chats []int64
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return &Error{Field: EnvPrefix + "TELEGRAM_CHATS", Message: fmt.Sprintf("not a chat id: %q", part)}
			}
			chats = append(chats, id)
		}
		cfg.Telegram.AllowedChats = chats
	}
	return nil
}
