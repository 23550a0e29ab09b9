package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"dispatchd/internal/domain"
)

const (
	starlarkMaxSteps    = uint64(100_000)
	starlarkEvalTimeout = 5 * time.Second
	maxScriptBytes      = 512 * 1024
)

// Migration script files are named <version>_<name>.star, e.g.
// 1000_initial_schema.star. Each script must export "statements": either a
// list of SQL strings or a zero-argument function returning one. The target
// engine name is predeclared as the global "engine".
var scriptNamePattern = regexp.MustCompile(`^(\d+)_([A-Za-z0-9_-]+)\.star$`)

// DirSource discovers and evaluates starlark migration scripts from a
// directory. It implements Source.
type DirSource struct {
	dir    string
	engine string
}

// NewDirSource creates a Source over dir for the named engine.
func NewDirSource(dir, engineName string) *DirSource {
	return &DirSource{dir: dir, engine: engineName}
}

// Available returns the highest script version present in the directory.
func (s *DirSource) Available(ctx context.Context) (int64, error) {
	versions, err := s.discover()
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[len(versions)-1].version, nil
}

// Load evaluates every script newer than after, in version order.
func (s *DirSource) Load(ctx context.Context, after int64) ([]Script, error) {
	files, err := s.discover()
	if err != nil {
		return nil, err
	}

	var scripts []Script
	for _, f := range files {
		if f.version <= after {
			continue
		}
		statements, err := s.eval(f)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, Script{
			Version:    f.version,
			Name:       f.name,
			Statements: statements,
		})
	}
	return scripts, nil
}

type scriptFile struct {
	path    string
	version int64
	name    string
}

func (s *DirSource) discover() ([]scriptFile, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.ErrMigration("read migration dir %s: %v", s.dir, err)
	}

	var files []scriptFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := scriptNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		files = append(files, scriptFile{
			path:    filepath.Join(s.dir, entry.Name()),
			version: version,
			name:    m[2],
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// eval runs one script under step and wall-clock limits and extracts its
// exported statements.
func (s *DirSource) eval(f scriptFile) ([]string, error) {
	src, err := os.ReadFile(f.path)
	if err != nil {
		return nil, domain.ErrMigration("read %s: %v", f.path, err)
	}
	if len(src) > maxScriptBytes {
		return nil, domain.ErrMigration("migration script %s exceeds %d bytes", f.path, maxScriptBytes)
	}

	thread := &starlark.Thread{Name: "migration-" + f.name}
	thread.SetMaxExecutionSteps(starlarkMaxSteps)

	predeclared := starlark.StringDict{
		"engine": starlark.String(s.engine),
	}

	var globals starlark.StringDict
	if err := runWithTimeout(thread, starlarkEvalTimeout, func() error {
		loaded, execErr := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, filepath.Base(f.path), src, predeclared)
		if execErr != nil {
			return execErr
		}
		globals = loaded
		return nil
	}); err != nil {
		return nil, domain.ErrMigration("evaluate %s: %v", f.path, err)
	}

	exported, ok := globals["statements"]
	if !ok {
		return nil, domain.ErrMigration("migration %s does not export \"statements\"", f.path)
	}

	if callable, isCallable := exported.(starlark.Callable); isCallable {
		if err := runWithTimeout(thread, starlarkEvalTimeout, func() error {
			result, callErr := starlark.Call(thread, callable, nil, nil)
			if callErr != nil {
				return callErr
			}
			exported = result
			return nil
		}); err != nil {
			return nil, domain.ErrMigration("call statements() in %s: %v", f.path, err)
		}
	}

	return statementList(exported, f.path)
}

func statementList(v starlark.Value, path string) ([]string, error) {
	list, ok := v.(*starlark.List)
	if !ok {
		return nil, domain.ErrMigration("migration %s: statements must be a list, got %s", path, v.Type())
	}

	statements := make([]string, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		text, ok := starlark.AsString(list.Index(i))
		if !ok {
			return nil, domain.ErrMigration("migration %s: statement %d is not a string", path, i)
		}
		statements = append(statements, text)
	}
	return statements, nil
}

func runWithTimeout(thread *starlark.Thread, d time.Duration, fn func() error) error {
	timer := time.AfterFunc(d, func() {
		thread.Cancel(fmt.Sprintf("execution exceeded %s", d))
	})
	defer timer.Stop()
	return fn()
}
