// Package resolver turns a plugin's (source, ref) into an immutable commit id
// by listing the remote's refs, without cloning.
package resolver

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/singleflight"

	"boardpm/internal/errs"
	"boardpm/internal/logging"
	"boardpm/internal/source"
)

type RefKind string

const (
	KindDefault RefKind = "default"
	KindBranch  RefKind = "branch"
	KindTag     RefKind = "tag"
	KindCommit  RefKind = "commit"
)

type Resolution struct {
	Commit string  `json:"commit"`
	Ref    string  `json:"ref,omitempty"`
	Kind   RefKind `json:"kind"`
}

type Options struct {
	Git       source.Git
	CacheTTL  time.Duration
	CacheSize int
	// TempDir holds throwaway bare repos used to verify commit ids.
	TempDir string
	Logger  *slog.Logger
}

type Service struct {
	git     source.Git
	cache   *expirable.LRU[string, []source.RemoteRef]
	group   singleflight.Group
	tempDir string
	logger  *slog.Logger
}

var commitPattern = regexp.MustCompile(`^[0-9a-f]{7,64}$`)

func New(opts Options) *Service {
	s := &Service{
		git:     opts.Git,
		tempDir: opts.TempDir,
		logger:  logging.OrDiscard(opts.Logger),
	}
	if opts.CacheTTL > 0 {
		size := opts.CacheSize
		if size <= 0 {
			size = 128
		}
		s.cache = expirable.NewLRU[string, []source.RemoteRef](size, nil, opts.CacheTTL)
	}
	return s
}

// Resolve maps ref to a commit on src. An empty ref follows the remote's
// default branch. Named refs are looked up as a full refname, then as a tag,
// then as a branch. A hex token that names no ref is treated as a commit and
// verified against the remote.
func (s *Service) Resolve(ctx context.Context, src, ref string) (Resolution, error) {
	refs, err := s.listRefs(ctx, src)
	if err != nil {
		return Resolution{}, err
	}
	byName := make(map[string]string, len(refs))
	for _, r := range refs {
		byName[r.Name] = r.Commit
	}

	if ref == "" {
		commit, ok := byName["HEAD"]
		if !ok {
			return Resolution{}, errs.New(errs.KindRefNotFound, "RES_REF_NOT_FOUND", "%s has no default branch", src)
		}
		return Resolution{Commit: commit, Kind: KindDefault}, nil
	}

	if strings.HasPrefix(ref, "refs/") {
		if commit, ok := peeled(byName, ref); ok {
			kind := KindBranch
			if strings.HasPrefix(ref, "refs/tags/") {
				kind = KindTag
			}
			return Resolution{Commit: commit, Ref: ref, Kind: kind}, nil
		}
	}
	if commit, ok := peeled(byName, "refs/tags/"+ref); ok {
		return Resolution{Commit: commit, Ref: ref, Kind: KindTag}, nil
	}
	if commit, ok := byName["refs/heads/"+ref]; ok {
		return Resolution{Commit: commit, Ref: ref, Kind: KindBranch}, nil
	}

	token := strings.ToLower(ref)
	if commitPattern.MatchString(token) {
		commit, err := s.verifyCommit(ctx, src, token, refs)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Commit: commit, Ref: ref, Kind: KindCommit}, nil
	}
	return Resolution{}, errs.New(errs.KindRefNotFound, "RES_REF_NOT_FOUND", "ref %q not found on %s", ref, src)
}

// peeled prefers the commit an annotated tag points at over the tag object.
func peeled(byName map[string]string, name string) (string, bool) {
	if commit, ok := byName[name+"^{}"]; ok {
		return commit, true
	}
	commit, ok := byName[name]
	return commit, ok
}

func (s *Service) verifyCommit(ctx context.Context, src, token string, refs []source.RemoteRef) (string, error) {
	tips := map[string]struct{}{}
	for _, r := range refs {
		if strings.HasPrefix(r.Commit, token) {
			tips[r.Commit] = struct{}{}
		}
	}
	if len(tips) == 1 {
		for commit := range tips {
			return commit, nil
		}
	}

	if s.tempDir != "" {
		if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
			return "", err
		}
	}
	dir, err := os.MkdirTemp(s.tempDir, "verify-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)
	if err := s.git.InitBare(ctx, dir); err != nil {
		return "", err
	}

	full := len(token) == 40 || len(token) == 64
	if full {
		if err := s.git.Fetch(ctx, dir, src, 1, token); err == nil {
			if commit, err := s.git.HasCommit(ctx, dir, token); err == nil {
				return commit, nil
			}
		} else if ctx.Err() != nil {
			return "", err
		} else {
			s.logger.Debug("shallow fetch by id failed, falling back to full fetch", "source", src, "commit", token, "error", err)
		}
	}
	if err := s.git.Fetch(ctx, dir, src, 0, "+refs/heads/*:refs/heads/*", "+refs/tags/*:refs/tags/*"); err != nil {
		return "", err
	}
	commit, err := s.git.HasCommit(ctx, dir, token)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", errs.New(errs.KindRefNotFound, "RES_COMMIT_NOT_FOUND", "commit %s not found on %s", token, src)
	}
	return commit, nil
}

// LatestTag returns the highest stable semver tag on src, or "" if it has none.
func (s *Service) LatestTag(ctx context.Context, src string) (string, error) {
	refs, err := s.listRefs(ctx, src)
	if err != nil {
		return "", err
	}
	best := ""
	for _, r := range refs {
		tag, ok := strings.CutPrefix(r.Name, "refs/tags/")
		if !ok {
			continue
		}
		tag = strings.TrimSuffix(tag, "^{}")
		v := canonical(tag)
		if v == "" || semver.Prerelease(v) != "" {
			continue
		}
		if best == "" || semver.Compare(v, canonical(best)) > 0 {
			best = tag
		}
	}
	return best, nil
}

// IsSemverTag reports whether ref reads as a semantic version, with or
// without the leading v.
func IsSemverTag(ref string) bool {
	return canonical(ref) != ""
}

// Newer reports whether candidate is a higher semver than current. Either side
// failing to parse means false.
func Newer(candidate, current string) bool {
	a, b := canonical(candidate), canonical(current)
	if a == "" || b == "" {
		return false
	}
	return semver.Compare(a, b) > 0
}

func canonical(tag string) string {
	v := tag
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

func (s *Service) listRefs(ctx context.Context, src string) ([]source.RemoteRef, error) {
	if s.cache != nil {
		if refs, ok := s.cache.Get(src); ok {
			return refs, nil
		}
	}
	v, err, _ := s.group.Do(src, func() (any, error) {
		refs, err := s.git.LsRemote(ctx, src)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Add(src, refs)
		}
		return refs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]source.RemoteRef), nil
}

// Forget drops any cached listing for src so the next call hits the remote.
func (s *Service) Forget(src string) {
	if s.cache != nil {
		s.cache.Remove(src)
	}
}
