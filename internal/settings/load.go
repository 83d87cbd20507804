package settings

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "STEADYBENCH"
	logKey    = "log"
)

// Bind registers every setting as a viper default so that config files and
// STEADYBENCH_* environment variables can override any of them.
func Bind(v *viper.Viper) {
	setDefaults(v, "", Defaults())
	setDefaults(v, logKey+".", DefaultLogSettings())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func setDefaults(v *viper.Viper, prefix string, defaults any) {
	val := reflect.ValueOf(defaults)
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		v.SetDefault(prefix+key, val.Field(i).Interface())
	}
}

// Load decodes and validates both settings blocks from v. Bind must have
// been called on v first.
func Load(v *viper.Viper) (TestSettings, LogSettings, error) {
	// One Unmarshal over flat keys so flags and env reach the log block too.
	c := struct {
		TestSettings `mapstructure:",squash"`
		Log          LogSettings `mapstructure:"log"`
	}{
		TestSettings: Defaults(),
		Log:          DefaultLogSettings(),
	}
	if err := v.Unmarshal(&c); err != nil {
		return c.TestSettings, c.Log, errors.Wrap(err, "decode settings")
	}
	s, l := c.TestSettings, c.Log

	sc, err := ParseScenario(string(s.Scenario))
	if err == nil {
		s.Scenario = sc
	}
	md, err := ParseMode(string(s.Mode))
	if err == nil {
		s.Mode = md
	}

	if err := s.Validate(); err != nil {
		return s, l, err
	}
	if err := l.Validate(); err != nil {
		return s, l, err
	}
	return s, l, nil
}
