package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Fixture is a program plus the inputs to render it with, loaded from a
// TOML file:
//
//	source_file = "list.asm"
//	entry = "main"
//
//	[input]
//	items = [{ id = "a", name = "A" }]
//
//	[[revisions]]
//	name = "reorder"
//	[revisions.input]
//	items = [{ id = "b", name = "B" }, { id = "a", name = "A" }]
type Fixture struct {
	Source     string         `toml:"source"`
	SourceFile string         `toml:"source_file"`
	Entry      string         `toml:"entry"`
	Input      map[string]any `toml:"input"`
	Dynamic    map[string]any `toml:"dynamic"`
	Revisions  []Revision     `toml:"revisions"`

	path string
}

// Revision is one input change applied after the initial render.
type Revision struct {
	Name string `toml:"name"`

	// Input replaces the whole input when set.
	Input map[string]any `toml:"input"`

	// Set assigns top level input keys, keeping the others.
	Set map[string]any `toml:"set"`

	// Revalidate evaluates every cache group even if nothing changed.
	Revalidate bool `toml:"revalidate"`
}

// Apply returns the input after the revision.
func (r Revision) Apply(input map[string]any) map[string]any {
	next := map[string]any{}
	if r.Input != nil {
		for k, v := range r.Input {
			next[k] = v
		}
	} else {
		for k, v := range input {
			next[k] = v
		}
	}
	for k, v := range r.Set {
		next[k] = v
	}
	return next
}

// LoadFixture reads and validates a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	var f Fixture
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("fixture %s: unknown key %s", path, undecoded[0])
	}
	f.path = path
	if err := f.resolveSource(); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return &f, nil
}

func (f *Fixture) resolveSource() error {
	switch {
	case f.Source != "" && f.SourceFile != "":
		return errors.New("source and source_file are mutually exclusive")
	case f.Source != "":
		return nil
	case f.SourceFile == "":
		return errors.New("no source or source_file")
	}
	path := f.SourceFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(f.path), path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f.Source = string(data)
	return nil
}

// Filename names the fixture's source in error messages.
func (f *Fixture) Filename() string {
	if f.SourceFile != "" {
		return f.SourceFile
	}
	return f.path
}
