// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"context"
	"net/url"
	"strings"

	"github.com/beakerlab/restraint/internal/errkind"
)

// Fetcher is the narrow collaborator the FETCH state dispatches to. FetchGit and FetchHTTP unpack
// a task's payload into task.Path; InstallPackage installs a named package via the host's package
// manager. All three are expected to block until the operation completes or fails.
type Fetcher interface {
	FetchGit(ctx context.Context, task *Task) error
	FetchHTTP(ctx context.Context, task *Task) error
	InstallPackage(ctx context.Context, name string) error
}

// DispatchFetch routes task.Fetch to the Fetcher method its Kind and (for Unpack) URL scheme
// select, mirroring task_fetch's switch on the parsed GFile URI scheme.
func DispatchFetch(ctx context.Context, f Fetcher, task *Task) error {
	switch task.Fetch.Kind {
	case FetchUnpack:
		u, err := url.Parse(task.Fetch.URL)
		if err != nil {
			return errkind.New(errkind.DomainFetch, errkind.FetchError, "invalid fetch url %q: %s", task.Fetch.URL, err)
		}
		switch u.Scheme {
		case "git":
			return f.FetchGit(ctx, task)
		case "http", "https":
			return f.FetchHTTP(ctx, task)
		default:
			return errkind.New(errkind.DomainFetch, errkind.FetchError, "scheme %q not implemented", u.Scheme)
		}
	case FetchInstallPackage:
		name := strings.TrimSpace(task.Fetch.PackageName)
		if name == "" || strings.ContainsAny(name, "/\\") {
			return errkind.New(errkind.DomainFetch, errkind.FetchError, "invalid package name %q", task.Fetch.PackageName)
		}
		return f.InstallPackage(ctx, name)
	default:
		return errkind.New(errkind.DomainFetch, errkind.FetchError, "unknown fetch kind %d", task.Fetch.Kind)
	}
}
