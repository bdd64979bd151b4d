// Copyright 2016 CoreOS, Inc.
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

package content

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/coreos/pkg/capnslog"
	"github.com/pkg/errors"

	"github.com/coreos/eos-updater-core/internal/pkg/deployment"
	"github.com/coreos/eos-updater-core/internal/pkg/ostreemeta"
	"github.com/coreos/eos-updater-core/internal/pkg/ref"
	"github.com/coreos/eos-updater-core/internal/pkg/uerrors"
)

var plog = capnslog.NewPackageLogger("github.com/coreos/eos-updater-core", "content")

// CLIStore implements Store by shelling out to the `ostree` binary, in the
// same spirit as vendor/github.com/coreos/rpmostree-client-go/pkg/client:
// one exec.Cmd per capability, output parsed as JSON or plain text.
type CLIStore struct {
	SysrootPath string
	OSName      string
	ClientID    string

	mu         sync.Mutex
	remotesCol map[string]string // remote -> collection id, loaded lazily
}

// NewCLIStore constructs a CLIStore rooted at sysrootPath for the given osname.
func NewCLIStore(sysrootPath, osname, clientID string) *CLIStore {
	return &CLIStore{SysrootPath: sysrootPath, OSName: osname, ClientID: clientID}
}

func (s *CLIStore) ostreeCmd(ctx context.Context, args ...string) *exec.Cmd {
	full := append([]string{"--repo=" + filepath.Join(s.SysrootPath, "repo")}, args...)
	c := exec.CommandContext(ctx, "ostree", full...)
	c.Env = append(os.Environ(), "OSTREE_CLIENT_ID="+s.ClientID)
	return c
}

func (s *CLIStore) BootedDeployment(ctx context.Context) (*deployment.Deployment, error) {
	out, err := s.ostreeCmd(ctx, "admin", "status", "--json").Output()
	if err != nil {
		return nil, uerrors.Wrapf(uerrors.NotOstreeSystem, err, "ostree admin status")
	}
	var status struct {
		Deployments []struct {
			OSName   string `json:"osname"`
			Checksum string `json:"checksum"`
			Booted   bool   `json:"booted"`
			Serial   int    `json:"serial"`
			Origin   string `json:"origin"`
		} `json:"deployments"`
		Bootversion int `json:"bootversion"`
	}
	if err := json.Unmarshal(out, &status); err != nil {
		return nil, uerrors.Wrapf(uerrors.NotOstreeSystem, err, "parsing ostree admin status output")
	}
	for _, d := range status.Deployments {
		if !d.Booted {
			continue
		}
		originData, err := os.ReadFile(s.originPath(d.OSName, d.Checksum, d.Serial))
		if err != nil {
			return nil, uerrors.Wrapf(uerrors.NotOstreeSystem, err, "reading origin file")
		}
		origin, err := deployment.ParseOrigin(originData)
		if err != nil {
			return nil, uerrors.Wrap(uerrors.NotOstreeSystem, err, "booted deployment origin")
		}
		return &deployment.Deployment{
			OSName:      d.OSName,
			Checksum:    d.Checksum,
			Origin:      origin,
			BootVersion: status.Bootversion,
		}, nil
	}
	return nil, uerrors.New(uerrors.NotOstreeSystem, "no booted deployment found")
}

func (s *CLIStore) originPath(osname, checksum string, serial int) string {
	return filepath.Join(s.SysrootPath, "ostree", "deploy", osname, "deploy",
		fmt.Sprintf("%s.%d.origin", checksum, serial))
}

func (s *CLIStore) LoadCommit(ctx context.Context, checksum string) (*ostreemeta.Commit, error) {
	out, err := s.ostreeCmd(ctx, "show", "--print-metadata-key=ALL", checksum).Output()
	if err != nil {
		// Not present locally: callers treat this as "no checkpoint"/"not an update".
		return nil, nil
	}
	meta, ts, subject, body, err := parseCommitShow(out)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing commit %s", checksum)
	}
	return &ostreemeta.Commit{
		Checksum:  checksum,
		Metadata:  meta,
		Timestamp: ts,
		Subject:   subject,
		Body:      body,
	}, nil
}

// parseCommitShow parses the textual key: value metadata dump `ostree show`
// produces, plus the "Date:"/"Subject:" header lines and a blank-line-
// separated commit body, matching the layout `ostree show <checksum>`
// prints for a real commit (subject/body being the commit's own message, as
// opposed to its metadata dict). Real commit metadata values that are
// themselves structured (e.g. ostree.sizes) are decoded as embedded JSON,
// matching how real branch metadata is serialized for the autoinstall/
// branch-file tooling in this codebase.
func parseCommitShow(out []byte) (meta map[string]interface{}, ts int64, subject, body string, err error) {
	meta = map[string]interface{}{}
	lines := strings.Split(string(out), "\n")
	bodyStart := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			bodyStart = i + 1
			break
		}
		key, val, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch key {
		case "Date":
			if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
				ts = parsed
			}
		case "Subject":
			subject = val
		default:
			var decoded interface{}
			if jsonErr := json.Unmarshal([]byte(val), &decoded); jsonErr == nil {
				meta[key] = decoded
			} else {
				meta[key] = val
			}
		}
	}
	if bodyStart >= 0 && bodyStart < len(lines) {
		body = strings.TrimSpace(strings.Join(lines[bodyStart:], "\n"))
	}
	return meta, ts, subject, body, nil
}

func (s *CLIStore) ResolveRef(ctx context.Context, refspec ref.Refspec) (string, error) {
	out, err := s.ostreeCmd(ctx, "rev-parse", refspec.String()).Output()
	if err != nil {
		return "", nil
	}
	checksum := strings.TrimSpace(string(out))
	if !ostreemeta.ValidChecksum(checksum) {
		return "", errors.Errorf("rev-parse %s: not a checksum: %q", refspec, checksum)
	}
	return checksum, nil
}

// KnownRemote reports whether remote is configured with a non-empty
// collection id; a remote configured without one is reported as unknown.
func (s *CLIStore) KnownRemote(remote string) bool {
	_, ok := s.collectionIDs()[remote]
	return ok
}

func (s *CLIStore) CollectionIDForRemote(remote string) (string, bool) {
	id, ok := s.collectionIDs()[remote]
	return id, ok
}

func (s *CLIStore) collectionIDs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remotesCol != nil {
		return s.remotesCol
	}
	s.remotesCol = map[string]string{}
	out, err := s.ostreeCmd(context.Background(), "remote", "list").Output()
	if err != nil {
		return s.remotesCol
	}
	for _, remote := range strings.Fields(string(out)) {
		cid, err := s.ostreeCmd(context.Background(), "remote", "show-url", "--collection-id", remote).Output()
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(cid)); id != "" {
			s.remotesCol[remote] = id
		}
	}
	return s.remotesCol
}

func (s *CLIStore) RegisterTransientRemote(ctx context.Context, name, url, collectionID string) error {
	if s.KnownRemote(name) {
		return nil
	}
	args := []string{"remote", "add", "--if-not-exists", "--no-gpg-verify"}
	if collectionID != "" {
		args = append(args, "--collection-id="+collectionID)
	}
	args = append(args, name, url)
	if err := s.ostreeCmd(ctx, args...).Run(); err != nil {
		return uerrors.Wrap(uerrors.Failed, err, "registering transient remote "+name)
	}
	s.mu.Lock()
	if s.remotesCol == nil {
		s.remotesCol = map[string]string{}
	}
	if collectionID != "" {
		s.remotesCol[name] = collectionID
	}
	s.mu.Unlock()
	return nil
}

func (s *CLIStore) PullCommitMetadataOnly(ctx context.Context, remote string, cr ref.CollectionRef) error {
	args := []string{"pull", "--commit-metadata-only", remote, cr.RefName}
	if err := s.ostreeCmd(ctx, args...).Run(); err != nil {
		return uerrors.Wrap(uerrors.NotFound, err, "pulling commit metadata")
	}
	return nil
}

// PullFromRemotes tries each of opts.Remotes in order, returning success on
// the first that completes. The last error is reported if every remote fails;
// the Fetch stage (internal/pkg/stage) is what decides whether that failure
// should trigger a disable-static-deltas retry (§4.5 step 2).
func (s *CLIStore) PullFromRemotes(ctx context.Context, opts PullOptions) error {
	if len(opts.Remotes) == 0 {
		return uerrors.New(uerrors.Fetching, "no remotes to pull from")
	}
	var lastErr error
	for _, remote := range opts.Remotes {
		args := []string{"pull"}
		if opts.DisableStaticDeltas {
			args = append(args, "--disable-static-deltas")
		}
		args = append(args, remote)
		for _, cr := range opts.CollectionRefs {
			args = append(args, cr.RefName)
		}
		cmd := s.ostreeCmd(ctx, args...)
		stderr, err := cmd.StderrPipe()
		if err != nil {
			lastErr = err
			continue
		}
		if err := cmd.Start(); err != nil {
			lastErr = uerrors.Wrap(uerrors.Fetching, err, "starting pull")
			continue
		}
		go reportProgress(stderr, opts.ProgressBytes)
		if err := cmd.Wait(); err != nil {
			if isNotFoundErr(err) {
				lastErr = uerrors.Wrap(uerrors.NotFound, err, "object not found on "+remote)
			} else {
				lastErr = uerrors.Wrap(uerrors.Fetching, err, "pulling from "+remote)
			}
			continue
		}
		return nil
	}
	return lastErr
}

func isNotFoundErr(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// reportProgress scans ostree's progress lines ("Receiving objects: N/M bytes")
// and maps them to a monotonic downloaded-byte counter (§4.5 step 3).
func reportProgress(r io.Reader, cb func(uint64)) {
	if cb == nil {
		io.Copy(io.Discard, r) //nolint:errcheck
		return
	}
	scanner := bufio.NewScanner(r)
	var last uint64
	for scanner.Scan() {
		n, ok := parseBytesField(scanner.Text())
		if !ok {
			continue
		}
		if n < last {
			n = last
		}
		last = n
		cb(n)
	}
}

func parseBytesField(line string) (uint64, bool) {
	idx := strings.Index(line, "bytes")
	if idx < 0 {
		return 0, false
	}
	fields := strings.Fields(line[:idx])
	if len(fields) == 0 {
		return 0, false
	}
	field := fields[len(fields)-1]
	if i := strings.Index(field, "/"); i >= 0 {
		field = field[:i]
	}
	n, err := strconv.ParseUint(field, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func flock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

func funlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}

func (s *CLIStore) LockSysroot(ctx context.Context) (func(), error) {
	lockPath := filepath.Join(s.SysrootPath, ".lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "opening sysroot lock")
	}
	if err := flock(f); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "locking sysroot")
	}
	return func() {
		funlock(f)
		f.Close()
	}, nil
}

func (s *CLIStore) ReloadSysroot(ctx context.Context) error {
	return s.ostreeCmd(ctx, "admin", "status").Run()
}

func (s *CLIStore) BootVersion(ctx context.Context) (int, error) {
	out, err := s.ostreeCmd(ctx, "admin", "status", "--json").Output()
	if err != nil {
		return 0, err
	}
	var status struct {
		Bootversion int `json:"bootversion"`
	}
	if err := json.Unmarshal(out, &status); err != nil {
		return 0, err
	}
	return status.Bootversion, nil
}

func (s *CLIStore) ClearRefspecLocally(ctx context.Context, refspec ref.Refspec) error {
	if err := s.ostreeCmd(ctx, "refs", "--delete", refspec.String()).Run(); err != nil {
		return errors.Wrap(err, "clearing local refspec")
	}
	return nil
}

func (s *CLIStore) DeployTree(ctx context.Context, osname, checksum string, origin deployment.Origin, bootedDeployment *deployment.Deployment) (*deployment.Deployment, error) {
	if err := s.ostreeCmd(ctx, "admin", "deploy", "--os="+osname, checksum).Run(); err != nil {
		return nil, uerrors.Wrap(uerrors.Failed, err, "deploying tree")
	}
	return &deployment.Deployment{OSName: osname, Checksum: checksum, Origin: origin}, nil
}

func (s *CLIStore) SimpleWriteDeployment(ctx context.Context, osname string, newDep *deployment.Deployment, flags WriteDeploymentFlags) error {
	args := []string{"admin", "deploy", "--os=" + osname, newDep.Checksum}
	if !flags.NoClean {
		args = append(args, "--no-clobber")
	}
	if err := s.ostreeCmd(ctx, args...).Run(); err != nil {
		return uerrors.Wrap(uerrors.Failed, err, "simple-write-deployment")
	}
	return nil
}

func (s *CLIStore) Cleanup(ctx context.Context) error {
	if err := s.ostreeCmd(ctx, "admin", "cleanup").Run(); err != nil {
		plog.Warningf("sysroot cleanup failed (non-fatal): %v", err)
	}
	if err := s.ostreeCmd(ctx, "prune", "--refs-only").Run(); err != nil {
		plog.Warningf("object pruning failed (non-fatal): %v", err)
	}
	return nil
}

func (s *CLIStore) CheckedOutPath(ctx context.Context, checksum string) (string, error) {
	out, err := s.ostreeCmd(ctx, "admin", "status", "--json").Output()
	if err != nil {
		return "", err
	}
	var status struct {
		Deployments []struct {
			OSName   string `json:"osname"`
			Checksum string `json:"checksum"`
			Serial   int    `json:"serial"`
		} `json:"deployments"`
	}
	if err := json.Unmarshal(out, &status); err != nil {
		return "", err
	}
	for _, d := range status.Deployments {
		if d.Checksum == checksum {
			return filepath.Join(s.SysrootPath, "ostree", "deploy", d.OSName, "deploy",
				fmt.Sprintf("%s.%d", d.Checksum, d.Serial)), nil
		}
	}
	return "", uerrors.New(uerrors.NotFound, "checksum not checked out: "+checksum)
}

// StageOntoVolume is the supplemented producer side of the Volume source kind
// (original_source/src/eos-prepare-volume.c): it checks out the commit's
// objects into the layout the Volume finder reads back (.ostree/repo plus a
// refs file naming the collection-ref -> checksum mapping).
func (s *CLIStore) StageOntoVolume(ctx context.Context, mountPath string, checksum string, cr ref.CollectionRef) error {
	repoPath := filepath.Join(mountPath, ".ostree", "repo")
	if err := os.MkdirAll(repoPath, 0o755); err != nil {
		return errors.Wrap(err, "creating volume repo dir")
	}
	if err := exec.CommandContext(ctx, "ostree", "init", "--repo="+repoPath, "--mode=archive").Run(); err != nil {
		return errors.Wrap(err, "initializing volume repo")
	}
	localRepo := filepath.Join(s.SysrootPath, "repo")
	if err := exec.CommandContext(ctx, "ostree", "pull-local", "--repo="+repoPath, localRepo, checksum).Run(); err != nil {
		return errors.Wrap(err, "staging commit onto volume")
	}
	refsPath := filepath.Join(mountPath, ".ostree", "eos-updater-refs")
	line := fmt.Sprintf("%s\t%s\n", cr.RefName, checksum)
	if err := os.WriteFile(refsPath, []byte(line), 0o644); err != nil {
		return errors.Wrap(err, "writing volume refs file")
	}
	return nil
}
