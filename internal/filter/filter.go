// Package filter decides which source files a coverage session tracks.
package filter

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/elastic/go-freelru"
	"github.com/zeebo/xxh3"
)

// SourceSuffix is the file suffix of trackable source files.
const SourceSuffix = ".py"

// SyntheticPrefix marks sources that do not live in a file, such as
// "<string>" or "<stdin>".
const SyntheticPrefix = "<"

// DefaultCacheSize is the number of path decisions memoized per filter.
const DefaultCacheSize = 4096

// IsSynthetic reports whether path names a source without a backing file.
func IsSynthetic(path string) bool {
	return path == "" || strings.HasPrefix(path, SyntheticPrefix)
}

// Filter is a path predicate. It is built once per session and is safe to
// call on the dispatch hot path; it is not safe for concurrent use.
type Filter struct {
	target string
	re     *regexp.Regexp
	cache  *freelru.LRU[string, bool]
}

// New builds a filter for target. An empty target matches every path that
// is not synthetic. A target containing a slash, or one of "." and "..", is a
// directory and the filter matches the source files below it; a relative
// directory is also matched in its absolute form under the working directory.
// Otherwise target is a module or package name, and the filter matches the
// source files of that module's tree wherever it lives. Dots in a module
// name are treated as package separators.
func New(target string) (*Filter, error) {
	var wd string

	if IsDirectory(target) && !path.IsAbs(target) {
		dir, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", target, err)
		}

		wd = dir
	}

	re, err := regexp.Compile(Pattern(target, wd))
	if err != nil {
		return nil, fmt.Errorf("compiling filter for %q: %w", target, err)
	}

	cache, err := freelru.New[string, bool](DefaultCacheSize, hashPath)
	if err != nil {
		return nil, fmt.Errorf("creating filter cache: %w", err)
	}

	return &Filter{
		target: target,
		re:     re,
		cache:  cache,
	}, nil
}

// IsDirectory reports whether target names a directory rather than a module.
func IsDirectory(target string) bool {
	return target == "." || target == ".." || strings.Contains(target, "/")
}

// Pattern returns the anchored regular expression used for target. wd is the
// absolute directory relative directory targets are resolved against; when
// empty only the relative spelling is matched.
func Pattern(target, wd string) string {
	suffix := regexp.QuoteMeta(SourceSuffix)

	switch {
	case target == "":
		return "^(|[^" + regexp.QuoteMeta(SyntheticPrefix) + "].*)$"
	case IsDirectory(target):
		return "^(" + strings.Join(directoryAlternatives(target, wd), "|") + ")" + suffix + "$"
	}

	parts := strings.Split(strings.Trim(target, "."), ".")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}

	return "^(.+/)?" + strings.Join(parts, "/") + "(/.+)?" + suffix + "$"
}

func directoryAlternatives(target, wd string) []string {
	dir := path.Clean(target)
	if path.IsAbs(dir) {
		return []string{below(dir)}
	}

	var alts []string

	if dir == "." {
		// Any relative path: not absolute and not synthetic.
		alts = append(alts, `(\./)?[^/`+regexp.QuoteMeta(SyntheticPrefix)+`].*`)
	} else {
		alts = append(alts, `(\./)?`+regexp.QuoteMeta(dir)+"/.+")
	}

	if wd != "" {
		alts = append(alts, below(path.Join(wd, dir)))
	}

	return alts
}

// below matches any path under the absolute directory dir.
func below(dir string) string {
	return regexp.QuoteMeta(strings.TrimSuffix(dir, "/")) + "/.+"
}

// Target returns the module name or directory the filter was built for.
func (f *Filter) Target() string {
	return f.target
}

// String returns the filter's pattern.
func (f *Filter) String() string {
	return f.re.String()
}

// Match reports whether path is tracked.
func (f *Filter) Match(path string) bool {
	if ok, found := f.cache.Get(path); found {
		return ok
	}

	ok := f.re.MatchString(path)
	f.cache.Add(path, ok)

	return ok
}

func hashPath(s string) uint32 {
	return uint32(xxh3.HashString(s))
}
