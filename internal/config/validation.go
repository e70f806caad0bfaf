package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	ferrors "git.home.luguber.info/inful/storydev/internal/foundation/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks struct-level constraints and then domain rules.
func Validate(o *Options) error {
	if err := structValidator().Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return ferrors.ConfigError("invalid configuration value").
				WithContext("field", first.Namespace()).
				WithContext("rule", first.Tag()).
				WithContext("value", fmt.Sprint(first.Value())).
				WithCause(err).
				Build()
		}
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid configuration").Fatal().Build()
	}

	v := &optionsValidator{o: o}
	for _, check := range []func() error{v.validateStories, v.validateStaticDirs, v.validateIndex, v.validatePreview, v.validateLogging} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

type optionsValidator struct {
	o *Options
}

func (v *optionsValidator) validateStories() error {
	if v.o.Features.IndexEnabled() && len(v.o.Stories) == 0 {
		return ferrors.ConfigError("no stories specified; add at least one entry under 'stories'").Build()
	}
	for i, s := range v.o.Stories {
		if s.Glob == "" && s.Directory == "" {
			return ferrors.ConfigError("stories entry is empty").WithContext("index", i).Build()
		}
	}
	return nil
}

func (v *optionsValidator) validateStaticDirs() error {
	for _, raw := range v.o.StaticDirs {
		dir, _ := SplitStaticDir(raw)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(v.o.ConfigDir, dir)
		}
		st, err := os.Stat(dir)
		if err != nil || !st.IsDir() {
			return ferrors.ConfigError("static directory not found").
				WithContext("dir", dir).
				Build()
		}
	}
	return nil
}

func (v *optionsValidator) validateIndex() error {
	if v.o.Index.DebounceWindow <= 0 {
		return ferrors.ConfigError("index.debounce_window must be > 0").Build()
	}
	return nil
}

func (v *optionsValidator) validatePreview() error {
	if v.o.Preview.Skip && v.o.Preview.URL != "" {
		return ferrors.ConfigError("preview.skip and preview.url are mutually exclusive").Build()
	}
	return nil
}

func (v *optionsValidator) validateLogging() error {
	if _, err := logLevels.Parse(string(v.o.Logging.Level)); err != nil {
		return ferrors.ConfigError("invalid logging.level").WithCause(err).Build()
	}
	if _, err := logFormats.Parse(string(v.o.Logging.Format)); err != nil {
		return ferrors.ConfigError("invalid logging.format").WithCause(err).Build()
	}
	return nil
}

// SplitStaticDir parses "dir" or "dir:/mount" into directory and mount path.
func SplitStaticDir(raw string) (dir, mount string) {
	dir, mount = raw, "/"
	if idx := strings.LastIndex(raw, ":"); idx > 0 && idx < len(raw)-1 && strings.HasPrefix(raw[idx+1:], "/") {
		dir, mount = raw[:idx], raw[idx+1:]
	}
	return dir, mount
}
