// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config loads the recipe and global settings a run needs, the way
// internal/boone.ReadConfigFile/FinalizeConfig do: unmarshal via viper, then validate and default
// in a single finalize pass.
package config

import (
	"time"

	"github.com/pkg/errors"
	std_viper "github.com/spf13/viper"

	"github.com/beakerlab/restraint/internal/engine"
	"github.com/beakerlab/restraint/internal/ids"
	"github.com/beakerlab/restraint/internal/shellsplit"
)

const (
	// DefaultEnvPrefix is prepended to well-known env var names for non-rhts_compat tasks.
	DefaultEnvPrefix = "RSTRNT_"

	// DefaultMaxTime is used for any task that omits MaxTime.
	DefaultMaxTime = "2h"

	// DefaultEWDTime pads the external watchdog deadline beyond a task's own max time.
	DefaultEWDTime = "1m"

	// DefaultHeartbeat is how often the RUNNING state emits a "Current Time" progress line.
	DefaultHeartbeat = "300s"
)

// NameValue mirrors engine.NameValue in config-file form (exported fields viper can unmarshal).
type NameValue struct {
	Name  string
	Value string
}

func (nv NameValue) toEngine() engine.NameValue {
	return engine.NameValue{Name: nv.Name, Value: nv.Value}
}

func toEngineList(in []NameValue) []engine.NameValue {
	out := make([]engine.NameValue, len(in))
	for i, nv := range in {
		out[i] = nv.toEngine()
	}
	return out
}

// FetchConfig is the config-file shape of engine.FetchSpec. Method ("unpack" or
// "install_package") selects whether URL or PackageName must be set; the other field is ignored.
type FetchConfig struct {
	Method      string
	URL         string
	PackageName string
}

// TaskConfig is the config-file shape of engine.Task.
type TaskConfig struct {
	TaskID  string
	TaskURI string
	Name    string
	Path    string

	Fetch FetchConfig

	// EntryPoint is a shell-style command string, split via shellsplit at finalize time. Empty
	// defaults to engine.DefaultEntryPoint ("make run").
	EntryPoint string
	MaxTime    string
	RHTSCompat bool
	Params     []NameValue
	Roles      []NameValue

	Dependencies []string
}

// RecipeConfig is the config-file shape of engine.Recipe.
type RecipeConfig struct {
	JobID       string
	RecipeSetID string
	RecipeID    string
	RecipeURI   string

	OSDistro  string
	OSMajor   string
	OSVariant string
	OSArch    string

	Roles  []NameValue
	Params []NameValue

	Task []TaskConfig
}

// GlobalConfig holds settings applied across every task in the recipe.
type GlobalConfig struct {
	// ControllerURL is the lab controller base URL, used as-is for a task's TaskURI or the
	// recipe's RecipeURI when the config leaves that field empty. A non-empty relative URI is
	// kept unchanged, not resolved against it.
	ControllerURL string

	EnvPrefix         string
	DefaultMaxTime    string
	EWDTime           string
	HeartbeatInterval string

	// LabController is reserved for future wiring (see SPEC_FULL.md §13): it is never read by
	// the env builder, which always emits LAB_CONTROLLER empty for wire compatibility with the
	// original.
	LabController string

	defaultMaxTime    time.Duration
	ewdTime           time.Duration
	heartbeatInterval time.Duration
}

// GetDefaultMaxTime returns the parsed DefaultMaxTime.
func (g GlobalConfig) GetDefaultMaxTime() time.Duration { return g.defaultMaxTime }

// GetEWDTime returns the parsed EWDTime.
func (g GlobalConfig) GetEWDTime() time.Duration { return g.ewdTime }

// GetHeartbeatInterval returns the parsed HeartbeatInterval.
func (g GlobalConfig) GetHeartbeatInterval() time.Duration { return g.heartbeatInterval }

// Config is the full config-file structure.
type Config struct {
	Global GlobalConfig
	Recipe RecipeConfig
}

// ReadConfigFile loads and finalizes a Config from name (any format viper supports: yaml, json,
// toml, ...).
func ReadConfigFile(name string) (Config, error) {
	v := std_viper.New()
	v.SetConfigFile(name)
	v.SetEnvPrefix("RSTRNT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config file [%s]", name)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrapf(err, "failed to unmarshal config from file [%s]", name)
	}

	if err := FinalizeConfig(&c); err != nil {
		return Config{}, errors.WithStack(err)
	}

	return c, nil
}

// FinalizeConfig validates and defaults c in place.
func FinalizeConfig(c *Config) error {
	if c.Global.ControllerURL == "" {
		return errors.New("global config is missing a [ControllerURL] field")
	}
	if c.Global.EnvPrefix == "" {
		c.Global.EnvPrefix = DefaultEnvPrefix
	}

	if c.Global.DefaultMaxTime == "" {
		c.Global.DefaultMaxTime = DefaultMaxTime
	}
	var err error
	if c.Global.defaultMaxTime, err = time.ParseDuration(c.Global.DefaultMaxTime); err != nil {
		return errors.Wrapf(err, "failed to parse Global.DefaultMaxTime [%s]", c.Global.DefaultMaxTime)
	}

	if c.Global.EWDTime == "" {
		c.Global.EWDTime = DefaultEWDTime
	}
	if c.Global.ewdTime, err = time.ParseDuration(c.Global.EWDTime); err != nil {
		return errors.Wrapf(err, "failed to parse Global.EWDTime [%s]", c.Global.EWDTime)
	}

	if c.Global.HeartbeatInterval == "" {
		c.Global.HeartbeatInterval = DefaultHeartbeat
	}
	if c.Global.heartbeatInterval, err = time.ParseDuration(c.Global.HeartbeatInterval); err != nil {
		return errors.Wrapf(err, "failed to parse Global.HeartbeatInterval [%s]", c.Global.HeartbeatInterval)
	}

	if c.Recipe.RecipeID == "" {
		return errors.New("recipe config is missing a [RecipeID] field")
	}
	if c.Recipe.RecipeURI == "" {
		c.Recipe.RecipeURI = c.Global.ControllerURL
	}

	seenTaskID := map[string]bool{}
	for i := range c.Recipe.Task {
		t := &c.Recipe.Task[i]

		if t.TaskID == "" {
			t.TaskID = ids.NewKSUID()
		}
		if seenTaskID[t.TaskID] {
			return errors.Errorf("task id [%s] used more than once", t.TaskID)
		}
		seenTaskID[t.TaskID] = true

		if t.Name == "" {
			return errors.Errorf("task [%s] is missing a [Name] field", t.TaskID)
		}
		if t.Path == "" {
			return errors.Errorf("task [%s] is missing a [Path] field", t.TaskID)
		}
		if t.TaskURI == "" {
			t.TaskURI = c.Global.ControllerURL
		}

		if t.MaxTime == "" {
			t.MaxTime = c.Global.DefaultMaxTime
		}
		if _, err := time.ParseDuration(t.MaxTime); err != nil {
			return errors.Wrapf(err, "[task: %s]: failed to parse MaxTime [%s]", t.TaskID, t.MaxTime)
		}

		switch t.Fetch.Method {
		case "unpack":
			if t.Fetch.URL == "" {
				return errors.Errorf("task [%s] fetch method [unpack] requires a [URL] field", t.TaskID)
			}
		case "install_package":
			if t.Fetch.PackageName == "" {
				return errors.Errorf("task [%s] fetch method [install_package] requires a [PackageName] field", t.TaskID)
			}
		default:
			return errors.Errorf("task [%s] has an unknown fetch [Method] [%s]", t.TaskID, t.Fetch.Method)
		}

		if t.EntryPoint != "" {
			if _, err := shellsplit.Parse(t.EntryPoint); err != nil {
				return errors.Wrapf(err, "[task: %s]: failed to parse EntryPoint [%s]", t.TaskID, t.EntryPoint)
			}
		}
	}

	return nil
}

// ToEngine converts a finalized Config into an *engine.Recipe ready for Engine.Start. It must
// only be called after FinalizeConfig succeeded.
func (c Config) ToEngine() (*engine.Recipe, error) {
	recipe := &engine.Recipe{
		JobID:       c.Recipe.JobID,
		RecipeSetID: c.Recipe.RecipeSetID,
		RecipeID:    c.Recipe.RecipeID,
		RecipeURI:   c.Recipe.RecipeURI,
		OSDistro:    c.Recipe.OSDistro,
		OSMajor:     c.Recipe.OSMajor,
		OSVariant:   c.Recipe.OSVariant,
		OSArch:      c.Recipe.OSArch,
		Roles:       toEngineList(c.Recipe.Roles),
		Params:      toEngineList(c.Recipe.Params),
	}

	for i, tc := range c.Recipe.Task {
		maxTime, err := time.ParseDuration(tc.MaxTime)
		if err != nil {
			return nil, errors.Wrapf(err, "[task: %s]: failed to parse MaxTime [%s]", tc.TaskID, tc.MaxTime)
		}

		entryPoint := append([]string{}, engine.DefaultEntryPoint...)
		if tc.EntryPoint != "" {
			entryPoint, err = shellsplit.Parse(tc.EntryPoint)
			if err != nil {
				return nil, errors.Wrapf(err, "[task: %s]: failed to parse EntryPoint [%s]", tc.TaskID, tc.EntryPoint)
			}
		}

		task := &engine.Task{
			TaskID:       tc.TaskID,
			TaskURI:      tc.TaskURI,
			Name:         tc.Name,
			Path:         tc.Path,
			Order:        i,
			EntryPoint:   entryPoint,
			MaxTime:      maxTime,
			RHTSCompat:   tc.RHTSCompat,
			Params:       toEngineList(tc.Params),
			Roles:        toEngineList(tc.Roles),
			Dependencies: append([]string{}, tc.Dependencies...),
			State:        engine.StateIdle,
			Recipe:       recipe,
		}

		switch tc.Fetch.Method {
		case "unpack":
			task.Fetch = engine.FetchSpec{Kind: engine.FetchUnpack, URL: tc.Fetch.URL}
		case "install_package":
			task.Fetch = engine.FetchSpec{Kind: engine.FetchInstallPackage, PackageName: tc.Fetch.PackageName}
		}

		recipe.Tasks = append(recipe.Tasks, task)
	}

	return recipe, nil
}
