package resolver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"boardpm/internal/errs"
	"boardpm/internal/source"
	"boardpm/internal/testutil"
)

func sha(c byte) string { return strings.Repeat(string(c), 40) }

// fakeGit serves a fixed ref listing and counts ls-remote calls.
type fakeGit struct {
	source.Git
	refs  []source.RemoteRef
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeGit) LsRemote(ctx context.Context, remote string) ([]source.RemoteRef, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.refs, f.err
}

func listing() []source.RemoteRef {
	return []source.RemoteRef{
		{Name: "HEAD", Commit: sha('a')},
		{Name: "refs/heads/main", Commit: sha('a')},
		{Name: "refs/heads/dev", Commit: sha('b')},
		{Name: "refs/tags/v1.0.0", Commit: sha('c')},
		{Name: "refs/tags/v1.0.0^{}", Commit: sha('d')},
		{Name: "refs/tags/v1.2.0", Commit: sha('e')},
		{Name: "refs/tags/v2.0.0-rc.1", Commit: sha('f')},
		{Name: "refs/tags/dev", Commit: sha('9')},
	}
}

func TestResolveNamedRefs(t *testing.T) {
	svc := New(Options{Git: &fakeGit{refs: listing()}})
	tests := []struct {
		ref    string
		commit string
		kind   RefKind
	}{
		{"", sha('a'), KindDefault},
		{"main", sha('a'), KindBranch},
		{"v1.0.0", sha('d'), KindTag},
		{"v1.2.0", sha('e'), KindTag},
		// tags win over branches of the same name
		{"dev", sha('9'), KindTag},
		{"refs/heads/dev", sha('b'), KindBranch},
		{"bbbbbbb", sha('b'), KindCommit},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			res, err := svc.Resolve(context.Background(), "https://example.com/r.git", tt.ref)
			require.NoError(t, err)
			require.Equal(t, tt.commit, res.Commit)
			require.Equal(t, tt.kind, res.Kind)
		})
	}
}

func TestResolveUnknownRefIsRefNotFound(t *testing.T) {
	svc := New(Options{Git: &fakeGit{refs: listing()}})
	_, err := svc.Resolve(context.Background(), "https://example.com/r.git", "v9.9.9")
	require.True(t, errors.Is(err, errs.KindRefNotFound), "got %v", err)
}

func TestResolveNeverSubstitutesOnFailure(t *testing.T) {
	fg := &fakeGit{refs: listing()}
	svc := New(Options{Git: fg})
	_, err := svc.Resolve(context.Background(), "https://example.com/r.git", "main")
	require.NoError(t, err)

	fg.refs = nil
	fg.err = errs.New(errs.KindRemoteUnreachable, "GIT_LS_REMOTE", "down")
	_, err = svc.Resolve(context.Background(), "https://example.com/r.git", "main")
	require.True(t, errors.Is(err, errs.KindRemoteUnreachable), "got %v", err)
}

func TestListingsAreCachedAndDeduplicated(t *testing.T) {
	fg := &fakeGit{refs: listing(), delay: 20 * time.Millisecond}
	svc := New(Options{Git: fg, CacheTTL: time.Minute})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Resolve(context.Background(), "https://example.com/r.git", "main"); err != nil {
				t.Errorf("resolve failed: %v", err)
			}
		}()
	}
	wg.Wait()
	_, err := svc.Resolve(context.Background(), "https://example.com/r.git", "v1.0.0")
	require.NoError(t, err)
	require.Equal(t, int32(1), fg.calls.Load())

	svc.Forget("https://example.com/r.git")
	_, err = svc.Resolve(context.Background(), "https://example.com/r.git", "main")
	require.NoError(t, err)
	require.Equal(t, int32(2), fg.calls.Load())
}

func TestLatestTagSkipsPrereleases(t *testing.T) {
	svc := New(Options{Git: &fakeGit{refs: listing()}})
	tag, err := svc.LatestTag(context.Background(), "https://example.com/r.git")
	require.NoError(t, err)
	require.Equal(t, "v1.2.0", tag)
	require.True(t, IsSemverTag("1.0.0"))
	require.False(t, IsSemverTag("main"))
}

func TestResolveAgainstRealRemote(t *testing.T) {
	repo := testutil.NewRepo(t)
	first := repo.Commit("v1", testutil.BoardFiles("holiday_countdown", "1.0.0"))
	repo.AnnotatedTag("v1.0.0")
	second := repo.Commit("v1.1", map[string]string{"board.py": "def render(canvas):\n    return canvas\n"})
	repo.Tag("v1.1.0")
	repo.Branch("feature")
	third := repo.Commit("feature work", map[string]string{"extra.txt": "x"})
	repo.Switch("main")
	// an unreferenced commit: reachable only from a deleted branch
	repo.Branch("scratch")
	orphan := repo.Commit("scratch", map[string]string{"scratch.txt": "x"})
	repo.Switch("main")
	repo.Git("push", "--quiet", "origin", "--delete", "scratch")

	git := source.NewCLI(source.Options{Retries: 1})
	svc := New(Options{Git: git, TempDir: t.TempDir()})
	ctx := context.Background()

	res, err := svc.Resolve(ctx, repo.URL, "v1.0.0")
	require.NoError(t, err)
	require.Equal(t, first, res.Commit, "annotated tags resolve to the tagged commit")

	res, err = svc.Resolve(ctx, repo.URL, "")
	require.NoError(t, err)
	require.Equal(t, second, res.Commit)

	res, err = svc.Resolve(ctx, repo.URL, "feature")
	require.NoError(t, err)
	require.Equal(t, third, res.Commit)

	res, err = svc.Resolve(ctx, repo.URL, first)
	require.NoError(t, err)
	require.Equal(t, first, res.Commit)
	require.Equal(t, KindCommit, res.Kind)

	res, err = svc.Resolve(ctx, repo.URL, first[:10])
	require.NoError(t, err)
	require.Equal(t, first, res.Commit, "abbreviations expand to the full id")

	_, err = svc.Resolve(ctx, repo.URL, orphan[:12])
	require.True(t, errors.Is(err, errs.KindRefNotFound), "got %v", err)

	_, err = svc.Resolve(ctx, repo.URL, strings.Repeat("0", 40))
	require.True(t, errors.Is(err, errs.KindRefNotFound), "got %v", err)

	tag, err := svc.LatestTag(ctx, repo.URL)
	require.NoError(t, err)
	require.Equal(t, "v1.1.0", tag)

	again, err := svc.Resolve(ctx, repo.URL, "v1.1.0")
	require.NoError(t, err)
	require.Equal(t, second, again.Commit)
}

func TestResolveUnreachableRemote(t *testing.T) {
	testutil.RequireGit(t)
	git := source.NewCLI(source.Options{Retries: 1})
	svc := New(Options{Git: git})
	_, err := svc.Resolve(context.Background(), "file://"+t.TempDir()+"/missing.git", "main")
	require.True(t, errors.Is(err, errs.KindRemoteUnreachable), "got %v", err)
}
