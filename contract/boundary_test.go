package contract

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowflow/contract/internal/escrow"
)

const escrowImport = "escrowflow/contract/internal/escrow"

// escrowImporters maps every module directory that imports the escrow package.
func escrowImporters(t *testing.T, root string) map[string]bool {
	t.Helper()
	found := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (strings.HasPrefix(d.Name(), "_") || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		f, err := parser.ParseFile(token.NewFileSet(), path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, imp := range f.Imports {
			p, _ := strconv.Unquote(imp.Path.Value)
			if p == escrowImport {
				rel, _ := filepath.Rel(root, filepath.Dir(path))
				found[filepath.ToSlash(rel)] = true
			}
		}
		return nil
	})
	require.NoError(t, err)
	return found
}

func TestEscrowOnlyReachableFromContract(t *testing.T) {
	importers := escrowImporters(t, "..")
	require.NotEmpty(t, importers)
	for dir := range importers {
		require.True(t, dir == "contract" || strings.HasPrefix(dir, "contract/"), "%s imports the escrow package", dir)
	}
	for _, dir := range []string{"api", "dispute", "timesession", "cmd/api", "test/actors"} {
		require.False(t, importers[dir], dir)
	}
}

func TestServiceNeverExposesReleaser(t *testing.T) {
	releaser := reflect.TypeOf(&escrow.Releaser{})
	releases := func(tp reflect.Type) bool {
		if tp == releaser || tp == releaser.Elem() {
			return true
		}
		if tp.Kind() == reflect.Interface {
			_, ok := tp.MethodByName("Release")
			return ok
		}
		return false
	}

	svc := reflect.TypeOf(&Service{})
	for i := 0; i < svc.NumMethod(); i++ {
		m := svc.Method(i)
		for j := 0; j < m.Type.NumIn(); j++ {
			require.False(t, releases(m.Type.In(j)), "%s accepts a releaser", m.Name)
		}
		for j := 0; j < m.Type.NumOut(); j++ {
			require.False(t, releases(m.Type.Out(j)), "%s returns a releaser", m.Name)
		}
	}
	for i := 0; i < svc.Elem().NumField(); i++ {
		require.False(t, svc.Elem().Field(i).IsExported(), svc.Elem().Field(i).Name)
	}
}
