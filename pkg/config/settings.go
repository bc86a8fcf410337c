package config

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// Settings is the resolved view of the configuration the runner needs. Each
// key is read exactly once, when the settings are resolved.
type Settings struct {
	Debug         bool     `config:"debug"`
	Development   bool     `config:"development"`
	Owners        []string `config:"users" validate:"dive,required"`
	CommandPrefix string   `config:"command-prefix" validate:"required"`
	Key           string   `config:"key" validate:"required"`
	CommandsDir   string   `config:"commands-dir" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("config"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// ResolveSettings reads and validates the settings. A required key that is
// absent yields an error matching ErrConfigurationMissing.
func ResolveSettings(p Provider) (Settings, error) {
	s := Settings{
		Debug:         Bool(p, KeyDebug, false),
		Development:   Bool(p, KeyDevelopment, false),
		Owners:        StringSlice(p, KeyUsers),
		CommandPrefix: String(p, KeyCommandPrefix, ""),
		Key:           String(p, KeyKey, ""),
		CommandsDir:   String(p, KeyCommandsDir, ""),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate reports the first invalid field. Missing values are reported as
// *MissingKeyError naming the configuration key.
func (s Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate settings: %w", err)
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return &MissingKeyError{Key: fe.Field()}
	}
	return fmt.Errorf("invalid configuration key %q: failed %q", fe.Field(), fe.Tag())
}
