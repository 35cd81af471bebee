// Copyright 2015 Tamás Demeter-Haludka
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Configuration facades.

There are two kinds of configuration in a PulseFrame application. The environment (Env) comes from the config.yml file in the application root, the .env file next to it, and the process environment. It holds deployment specific values: secrets, URLs, SMTP settings, the storage path.

The application configuration (Config) lives in the config/ directory, one file per topic (config/app.yml, config/database.yml). It is part of the application's source.

Both are backed by viper, so keys are case insensitive and support dot notation.
*/
package config

import (
	"path"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
)

var Error = errs.Class("config")

// The environment of the application.
type Env struct {
	v *viper.Viper
}

// Loads the environment from root/config.yml and root/.env.
//
// At least one of the files must exist. Values from .env override config.yml, and the process environment overrides both (app.url can be set with APP_URL).
func LoadEnv(fs afero.Fs, root string) (*Env, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	ymlPath := path.Join(root, "config.yml")
	envPath := path.Join(root, ".env")

	ymlExists, err := afero.Exists(fs, ymlPath)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	envExists, err := afero.Exists(fs, envPath)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	if !ymlExists && !envExists {
		return nil, Error.New("neither config.yml nor .env file exists in %s", root)
	}

	if ymlExists {
		v.SetConfigFile(ymlPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	if envExists {
		v.SetConfigFile(envPath)
		v.SetConfigType("env")
		if err := v.MergeInConfig(); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	return &Env{v: v}, nil
}

// Creates an environment from a viper instance. Useful in tests.
func NewEnv(v *viper.Viper) *Env {
	if v == nil {
		v = viper.New()
	}

	return &Env{v: v}
}

// Gets a value by a dot-notated key (e.g. "smtp.host"). Returns def if the key is not set.
func (e *Env) Get(key string, def interface{}) interface{} {
	if !e.v.IsSet(key) {
		return def
	}

	return e.v.Get(key)
}

func (e *Env) GetString(key string) string {
	return e.v.GetString(key)
}

func (e *Env) GetBool(key string) bool {
	return e.v.GetBool(key)
}

func (e *Env) GetInt(key string) int {
	return e.v.GetInt(key)
}

func (e *Env) GetStringMap(key string) map[string]interface{} {
	return e.v.GetStringMap(key)
}

func (e *Env) IsSet(key string) bool {
	return e.v.IsSet(key)
}

func (e *Env) Set(key string, value interface{}) {
	e.v.Set(key, value)
}

func (e *Env) SetDefault(key string, value interface{}) {
	e.v.SetDefault(key, value)
}

// Returns the underlying viper instance.
func (e *Env) Viper() *viper.Viper {
	return e.v
}

// Application configuration, read from a directory of configuration files.
//
// Files are loaded on first use and cached for the lifetime of the Config.
type Config struct {
	fs    afero.Fs
	dir   string
	mu    sync.Mutex
	cache map[string]*viper.Viper
}

func NewConfig(fs afero.Fs, dir string) *Config {
	return &Config{
		fs:    fs,
		dir:   dir,
		cache: make(map[string]*viper.Viper),
	}
}

var configExtensions = []string{"yml", "yaml", "json", "toml"}

// Loads a configuration file by name (without extension).
func (c *Config) File(name string) (*viper.Viper, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.cache[name]; ok {
		return v, nil
	}

	for _, ext := range configExtensions {
		filePath := path.Join(c.dir, name+"."+ext)
		exists, err := afero.Exists(c.fs, filePath)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if !exists {
			continue
		}

		v := viper.New()
		v.SetFs(c.fs)
		v.SetConfigFile(filePath)
		if ext == "yml" {
			v.SetConfigType("yaml")
		} else {
			v.SetConfigType(ext)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, Error.Wrap(err)
		}

		c.cache[name] = v
		return v, nil
	}

	return nil, Error.New("configuration file %s not found", path.Join(c.dir, name+".yml"))
}

// Checks if a configuration file exists, in any of the supported formats.
func (c *Config) Has(name string) bool {
	for _, ext := range configExtensions {
		if exists, err := afero.Exists(c.fs, path.Join(c.dir, name+"."+ext)); err == nil && exists {
			return true
		}
	}

	return false
}

// Returns the whole configuration file as a map.
func (c *Config) All(name string) (map[string]interface{}, error) {
	v, err := c.File(name)
	if err != nil {
		return nil, err
	}

	return v.AllSettings(), nil
}

// Gets a key from a configuration file.
func (c *Config) Get(name, key string) (interface{}, error) {
	v, err := c.File(name)
	if err != nil {
		return nil, err
	}

	if !v.IsSet(key) {
		return nil, Error.New("key %q not found in configuration file %s", key, name)
	}

	return v.Get(key), nil
}

// Gets a string slice from a configuration file. It fails if the key is missing or the value is not a list.
func (c *Config) GetStringSlice(name, key string) ([]string, error) {
	raw, err := c.Get(name, key)
	if err != nil {
		return nil, err
	}

	switch list := raw.(type) {
	case []string:
		return list, nil
	case []interface{}:
		ret := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, Error.New("%s.%s must be a list of strings", name, key)
			}
			ret = append(ret, s)
		}
		return ret, nil
	}

	return nil, Error.New("%s.%s is not a list", name, key)
}

// Same as Get, but returns def instead of an error.
func (c *Config) GetDefault(name, key string, def interface{}) interface{} {
	v, err := c.Get(name, key)
	if err != nil {
		return def
	}

	return v
}

// Same as GetDefault, converted to a string.
func (c *Config) GetString(name, key string) string {
	v, err := c.File(name)
	if err != nil {
		return ""
	}

	return v.GetString(key)
}
