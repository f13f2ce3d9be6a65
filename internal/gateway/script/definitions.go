package script

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

// Category discriminates script definitions.
type Category string

// Script categories.
const (
	CategoryWebApp  Category = "webapp"
	CategoryWebGame Category = "webgame"
)

// Definition is one loaded script.
type Definition struct {
	Name     string
	Category Category
	Source   string
}

// Library indexes loaded definitions by lowercase name within each category.
type Library struct {
	apps  map[string]Definition
	games map[string]Definition
}

// NewLibrary builds a library from definitions, e.g. in tests. Names and
// categories are case-folded.
func NewLibrary(definitions ...Definition) (*Library, error) {
	library := &Library{
		apps:  make(map[string]Definition),
		games: make(map[string]Definition),
	}
	for _, definition := range definitions {
		if err := library.add(definition); err != nil {
			return nil, err
		}
	}
	return library, nil
}

func (l *Library) add(definition Definition) error {
	name := strings.ToLower(definition.Name)
	if name == "" {
		return fmt.Errorf("script definition has no name")
	}
	definition.Name = name
	definition.Category = Category(strings.ToLower(string(definition.Category)))

	var target map[string]Definition
	switch definition.Category {
	case CategoryWebApp:
		target = l.apps
	case CategoryWebGame:
		target = l.games
	default:
		return fmt.Errorf("script %q has unknown category %q", name, definition.Category)
	}

	if _, exists := target[name]; exists {
		return fmt.Errorf("duplicate %s script %q", definition.Category, name)
	}
	target[name] = definition
	return nil
}

// App looks up a webapp definition by case-folded name.
func (l *Library) App(name string) (Definition, bool) {
	definition, ok := l.apps[strings.ToLower(name)]
	return definition, ok
}

// Game looks up a webgame definition by case-folded name.
func (l *Library) Game(name string) (Definition, bool) {
	definition, ok := l.games[strings.ToLower(name)]
	return definition, ok
}

// Counts reports how many definitions each category holds.
func (l *Library) Counts() (apps, games int) {
	return len(l.apps), len(l.games)
}

// LoadDefinitions walks a content directory and loads every *.lua file. The
// category comes from a "-- @type: webapp" header line, or failing that from
// the file's top-level subdirectory name.
func LoadDefinitions(dir string) (*Library, error) {
	return loadDefinitionsFS(os.DirFS(dir))
}

func loadDefinitionsFS(fsys fs.FS) (*Library, error) {
	library, err := NewLibrary()
	if err != nil {
		return nil, err
	}

	err = fs.WalkDir(fsys, ".", func(entryPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.EqualFold(path.Ext(entryPath), ".lua") {
			return nil
		}

		source, err := fs.ReadFile(fsys, entryPath)
		if err != nil {
			return fmt.Errorf("read script %s: %w", entryPath, err)
		}

		category := headerCategory(string(source))
		if category == "" {
			category = directoryCategory(entryPath)
		}

		name := strings.TrimSuffix(path.Base(entryPath), path.Ext(entryPath))
		definition := Definition{
			Name:     name,
			Category: Category(category),
			Source:   string(source),
		}
		if err := library.add(definition); err != nil {
			return fmt.Errorf("load script %s: %w", entryPath, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return library, nil
}

// headerCategory scans leading comment lines for a "@type:" marker.
func headerCategory(source string) string {
	scanner := bufio.NewScanner(strings.NewReader(source))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			return ""
		}
		comment := strings.TrimSpace(strings.TrimPrefix(line, "--"))
		if value, ok := strings.CutPrefix(comment, "@type:"); ok {
			return strings.ToLower(strings.TrimSpace(value))
		}
	}
	return ""
}

// directoryCategory uses the top-level subdirectory as the category for
// scripts without a header marker.
func directoryCategory(entryPath string) string {
	first, _, found := strings.Cut(entryPath, "/")
	if !found {
		return ""
	}
	return strings.ToLower(first)
}
