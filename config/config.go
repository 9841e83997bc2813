// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/lakesort/internal/linesort"
	"github.com/cardinalhq/lakesort/internal/objstore"
)

// FileEnv names an explicit configuration file, overriding the search for
// lakesort.yaml in the working directory.
const FileEnv = "LAKESORT_CONFIG"

type Config struct {
	Sort    linesort.Options `mapstructure:"sort" yaml:"sort"`
	Storage objstore.Config  `mapstructure:"storage" yaml:"storage"`
	// StageConcurrency bounds parallel downloads of remote inputs.
	StageConcurrency int `mapstructure:"stage_concurrency" yaml:"stage_concurrency"`
	// StaleTempAge is how old an abandoned temp session must be before a
	// sort removes it. Zero disables the sweep.
	StaleTempAge time.Duration `mapstructure:"stale_temp_age" yaml:"stale_temp_age"`
}

func Default() *Config {
	return &Config{
		Sort:             linesort.DefaultOptions(),
		StageConcurrency: objstore.DefaultConcurrency,
		StaleTempAge:     24 * time.Hour,
	}
}

// Load layers lakesort.yaml and LAKESORT_* environment variables over the
// defaults. Nested keys use underscores in the environment, so sort.fan_in
// is LAKESORT_SORT_FAN_IN.
func Load() (*Config, error) {
	cfg := Default()

	v := viper.New()
	if path := os.Getenv(FileEnv); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lakesort")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("LAKESORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
