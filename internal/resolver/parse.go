package resolver

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// ParsedSource is a plugin source as given on the command line.
type ParsedSource struct {
	// URL is what gets passed to git.
	URL string
	// Ref is a branch or tag embedded in a browse URL such as
	// https://github.com/org/repo/tree/v1.0.0.
	Ref string
	// Name is a plugin id candidate derived from the repository name.
	Name string
}

var scpLike = regexp.MustCompile(`^[A-Za-z0-9_.-]+@[A-Za-z0-9_.-]+:(.+)$`)

func ParseSource(raw string) (ParsedSource, error) {
	in := strings.TrimSpace(raw)
	if in == "" {
		return ParsedSource{}, fmt.Errorf("RES_SOURCE_PARSE: empty source")
	}
	if m := scpLike.FindStringSubmatch(in); m != nil && !strings.Contains(in, "://") {
		return ParsedSource{URL: in, Name: idFromRepo(path.Base(m[1]))}, nil
	}
	if !strings.Contains(in, "://") {
		local := strings.TrimRight(in, "/")
		return ParsedSource{URL: in, Name: idFromRepo(path.Base(strings.ReplaceAll(local, "\\", "/")))}, nil
	}
	u, err := url.Parse(in)
	if err != nil {
		return ParsedSource{}, fmt.Errorf("RES_SOURCE_PARSE: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git", "file":
	default:
		return ParsedSource{}, fmt.Errorf("RES_SOURCE_PARSE: unsupported scheme %q in %q", u.Scheme, raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if u.Scheme == "file" || len(parts) < 2 {
		return ParsedSource{URL: in, Name: idFromRepo(parts[len(parts)-1])}, nil
	}

	repoEnd, ref := splitBrowsePath(parts)
	if repoEnd == len(parts) {
		return ParsedSource{URL: in, Name: idFromRepo(parts[len(parts)-1])}, nil
	}
	repo := make([]string, repoEnd)
	copy(repo, parts[:repoEnd])
	repo[repoEnd-1] = strings.TrimSuffix(repo[repoEnd-1], ".git")
	return ParsedSource{
		URL:  fmt.Sprintf("%s://%s/%s.git", u.Scheme, u.Host, strings.Join(repo, "/")),
		Ref:  ref,
		Name: idFromRepo(repo[repoEnd-1]),
	}, nil
}

// splitBrowsePath finds the repository boundary in a web URL path. GitLab
// style /-/tree/<ref> and GitHub style /tree/<ref> are understood.
func splitBrowsePath(parts []string) (int, string) {
	for i := 2; i < len(parts); i++ {
		if parts[i] == "-" && i+2 < len(parts) && (parts[i+1] == "tree" || parts[i+1] == "blob") {
			return i, parts[i+2]
		}
		if (parts[i] == "tree" || parts[i] == "blob") && i+1 < len(parts) {
			return i, parts[i+1]
		}
	}
	return len(parts), ""
}

// idFromRepo turns a repository name into a plugin id candidate, or "" when
// no valid id can be derived.
func idFromRepo(name string) string {
	name = strings.ToLower(strings.TrimSuffix(name, ".git"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || r == '.' || r == ' ':
			b.WriteRune('_')
		}
	}
	id := strings.Trim(b.String(), "_")
	if id == "" || id[0] < 'a' || id[0] > 'z' {
		return ""
	}
	return id
}
