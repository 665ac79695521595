package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	saved := color.NoColor
	t.Cleanup(func() { color.NoColor = saved })

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRunFixture(t *testing.T) {
	out, err := execute(t, "run", filepath.Join("testdata", "list.toml"))
	require.Nil(t, err)
	expected := strings.Join([]string{
		"== initial",
		"<ul><li>ADA</li><li>BABBAGE</li></ul>",
		"== reorder",
		"<ul><li>BABBAGE</li><li>ADA</li><li>CURRY</li></ul>",
		"== clear",
		"<ul>empty</ul>",
		"",
	}, "\n")
	require.Equal(t, expected, out)
}

func TestRunCode(t *testing.T) {
	src := `.block main 0
    text "Hi "
    get_self
    get_property "name"
    helper lower
    append_text
    return`
	out, err := execute(t, "run", "-c", src, "--input", `{"name": "ADA"}`)
	require.Nil(t, err)
	require.Equal(t, "Hi ada\n", out)
}

func TestRunJSONOutput(t *testing.T) {
	src := `.block main 0
    open_element "b"
    flush_element
    text "x"
    close_element
    return`
	out, err := execute(t, "run", "-c", src, "-o", "json")
	require.Nil(t, err)

	var tree []map[string]any
	require.Nil(t, json.Unmarshal([]byte(out), &tree))
	require.Len(t, tree, 1)
	require.Equal(t, "element", tree[0]["type"])
	require.Equal(t, "b", tree[0]["tag"])
}

func TestRunInputErrors(t *testing.T) {
	_, err := execute(t, "run")
	require.EqualError(t, err, "no input provided")

	_, err = execute(t, "run", "-c", ".block main 0\n return", filepath.Join("testdata", "list.asm"))
	require.EqualError(t, err, "multiple input sources specified")

	_, err = execute(t, "run", filepath.Join("testdata", "bad_key.toml"))
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "unknown key colour")

	_, err = execute(t, "run", "-c", ".block main 0\n return", "-o", "yaml")
	require.EqualError(t, err, "unknown output format: yaml")
}

func TestDis(t *testing.T) {
	out, err := execute(t, "dis", "--stats", filepath.Join("testdata", "list.asm"))
	require.Nil(t, err)
	require.Contains(t, out, "ENTER_LIST")
	require.Contains(t, out, "upper")
	require.Contains(t, out, "blocks: 1")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.Nil(t, err)
	require.Equal(t, "dev\n", out)

	out, err = execute(t, "version", "-o", "json")
	require.Nil(t, err)
	var info map[string]string
	require.Nil(t, json.Unmarshal([]byte(out), &info))
	require.Equal(t, "dev", info["version"])
}

func TestRevisionApply(t *testing.T) {
	input := map[string]any{"a": 1, "b": 2}
	require.Equal(t, map[string]any{"a": 1, "b": 3},
		Revision{Set: map[string]any{"b": 3}}.Apply(input))
	require.Equal(t, map[string]any{"c": 4},
		Revision{Input: map[string]any{"c": 4}}.Apply(input))
	require.Equal(t, map[string]any{"a": 1, "b": 2}, input)
}
