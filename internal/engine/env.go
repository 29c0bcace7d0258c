// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// wellKnown is the fixed, prefixed portion of the environment, in the exact order build_env
// wrote them in task.c: job/recipe/task identity, OS descriptors, path/name/order, and the two
// watchdog-adjacent fields (MAXTIME, LAB_CONTROLLER). LAB_CONTROLLER is carried for wire
// compatibility but is always empty; see SPEC_FULL.md §13.
func wellKnown(task *Task) []NameValue {
	r := task.Recipe
	return []NameValue{
		{"JOBID", r.JobID},
		{"RECIPESETID", r.RecipeSetID},
		{"RECIPEID", r.RecipeID},
		{"TASKID", task.TaskID},
		{"OSDISTRO", r.OSDistro},
		{"OSMAJOR", r.OSMajor},
		{"OSVARIANT", r.OSVariant},
		{"OSARCH", r.OSArch},
		{"TASKPATH", task.Path},
		{"TASKNAME", task.Name},
		{"MAXTIME", strconv.FormatInt(int64(task.MaxTime/time.Second), 10)},
		{"LAB_CONTROLLER", ""},
		{"TASKORDER", strconv.Itoa(task.Order)},
	}
}

// fixedVars are unprefixed regardless of RHTSCompat, matching build_env's literal HOME/TERM/
// LANG/PATH assignments.
var fixedVars = []NameValue{
	{"HOME", "/root"},
	{"TERM", "vt100"},
	{"LANG", "en_US.UTF-8"},
	{"PATH", "/usr/local/bin:usr/bin:/bin:/usr/local/sbin:/usr/sbin"},
}

// BuildEnv materializes a task's environment vector in build_env's order: recipe roles, task
// roles, the prefixed well-known vars, the fixed vars, recipe params, then task params. prefix is
// prepended to well-known var names unless task.RHTSCompat is set (RHTS-compatible tasks expect
// the old unprefixed names).
func BuildEnv(task *Task, prefix string) ([]string, error) {
	if task.Recipe == nil {
		return nil, errors.Errorf("task [%s]: cannot build env without a recipe", task.TaskID)
	}
	if task.RHTSCompat {
		prefix = ""
	}

	var env []string
	appendPairs := func(pairs []NameValue, namePrefix string) {
		for _, p := range pairs {
			env = append(env, fmt.Sprintf("%s%s=%s", namePrefix, p.Name, p.Value))
		}
	}

	appendPairs(task.Recipe.Roles, "")
	appendPairs(task.Roles, "")
	appendPairs(wellKnown(task), prefix)
	appendPairs(fixedVars, "")
	appendPairs(task.Recipe.Params, "")
	appendPairs(task.Params, "")

	return env, nil
}
