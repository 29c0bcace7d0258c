// Copyright (C) 2020 The restraint Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package fetchexec is the default engine.Fetcher: it shells out to the host's own git and
// package-manager binaries for git fetches and package installs, and downloads and extracts
// gzipped tarballs in-process (archive/tar, compress/gzip) for http fetches. No other archive
// format is handled.
package fetchexec

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/beakerlab/restraint/internal/engine"
)

// Fetcher shells out to git for FetchGit, downloads+extracts a gzipped tarball for FetchHTTP, and
// invokes PackageManager for InstallPackage.
type Fetcher struct {
	// PackageManager is the install command prefix, e.g. []string{"yum", "install", "-y"}. Defaults
	// to yum if unset, matching the RHTS lineage this harness descends from.
	PackageManager []string
}

// New returns a Fetcher defaulting to "yum install -y" for package installs.
func New() *Fetcher {
	return &Fetcher{PackageManager: []string{"yum", "install", "-y"}}
}

// FetchGit clones task.Fetch.URL into task.Path.
func (f *Fetcher) FetchGit(ctx context.Context, task *engine.Task) error {
	cmd := exec.CommandContext(ctx, "git", "clone", task.Fetch.URL, task.Path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "git clone failed: %s", out)
	}
	return nil
}

// FetchHTTP downloads task.Fetch.URL and extracts it, as a gzipped tarball, into task.Path.
func (f *Fetcher) FetchHTTP(ctx context.Context, task *engine.Task) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.Fetch.URL, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to build request for [%s]", task.Fetch.URL)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch [%s]", task.Fetch.URL)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("fetch of [%s] returned status %d", task.Fetch.URL, resp.StatusCode)
	}

	if err := os.MkdirAll(task.Path, 0755); err != nil {
		return errors.Wrapf(err, "failed to create [%s]", task.Path)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to open gzip stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to read tar entry")
		}
		if err := extractEntry(task.Path, hdr, tr); err != nil {
			return err
		}
	}
}

func extractEntry(dir string, hdr *tar.Header, r io.Reader) error {
	target, err := safeJoin(dir, hdr.Name)
	if err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return errors.Wrapf(os.MkdirAll(target, 0755), "failed to create directory [%s]", target)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory for [%s]", target)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return errors.Wrapf(err, "failed to create file [%s]", target)
		}
		defer out.Close()
		if _, err := io.Copy(out, r); err != nil {
			return errors.Wrapf(err, "failed to write file [%s]", target)
		}
		return nil
	default:
		return nil
	}
}

// safeJoin prevents a tar entry's path from escaping dir via "../" traversal. A plain prefix
// check on the cleaned path (e.g. dir="/a/b" against an entry cleaning to "/a/bc") would wrongly
// admit a sibling directory that merely shares dir's name as a prefix, so the boundary is checked
// against dir plus its own separator instead.
func safeJoin(dir, name string) (string, error) {
	dir = filepath.Clean(dir)
	target := filepath.Join(dir, name)
	if target != dir && !strings.HasPrefix(target, dir+string(filepath.Separator)) {
		return "", errors.Errorf("tar entry [%s] escapes destination [%s]", name, dir)
	}
	return target, nil
}

// InstallPackage invokes PackageManager with name appended.
func (f *Fetcher) InstallPackage(ctx context.Context, name string) error {
	pm := f.PackageManager
	if len(pm) == 0 {
		pm = []string{"yum", "install", "-y"}
	}
	argv := append([]string{}, pm...)
	argv = append(argv, name)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s failed: %s", argv[0], out)
	}
	return nil
}

var _ engine.Fetcher = (*Fetcher)(nil)
