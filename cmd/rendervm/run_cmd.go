package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudcmds/rendervm"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [fixture.toml | program.asm]",
		Short: "Render a program and apply the fixture's revisions",
		Long: `Render a program and print the output.

A .toml argument is loaded as a fixture: a program, its input and a list
of revisions. Each revision updates the input and re-renders, printing
the output after every step. Any other argument is read as assembler
source and rendered once with the --input JSON document.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHandler,
	}
	flags := cmd.Flags()
	flags.StringP("code", "c", "", "Assembler source to render")
	flags.Bool("stdin", false, "Read assembler source from stdin")
	flags.String("input", "", "Input as a JSON document")
	flags.String("entry", "", "Block to start rendering from")
	flags.StringP("output", "o", "", "Output format (html, text, json)")
	flags.Bool("timing", false, "Show render and update times")
	_ = viper.BindPFlag("output", flags.Lookup("output"))
	_ = cmd.RegisterFlagCompletionFunc("output", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return outputFormatsCompletion, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func runHandler(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	fixture, err := getFixture(cmd, args)
	if err != nil {
		return err
	}
	opts := getRenderOptions(logger)
	opts = append(opts, rendervm.WithFilename(fixture.Filename()))
	if entry, _ := cmd.Flags().GetString("entry"); entry != "" {
		opts = append(opts, rendervm.WithEntry(entry))
	} else if fixture.Entry != "" {
		opts = append(opts, rendervm.WithEntry(fixture.Entry))
	}
	if len(fixture.Dynamic) > 0 {
		opts = append(opts, rendervm.WithDynamicVars(fixture.Dynamic))
	}
	timing, _ := cmd.Flags().GetBool("timing")
	format := viper.GetString("output")
	out := cmd.OutOrStdout()

	program, err := rendervm.Compile(fixture.Source, opts...)
	if err != nil {
		return err
	}
	start := time.Now()
	result, err := rendervm.Render(cmd.Context(), program, fixture.Input, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := result.Destroy(); err != nil {
			logger.Error().Err(err).Msg("destroy failed")
		}
	}()
	logger.Debug().Str("render_id", result.ID().String()).Msg("rendered")

	staged := len(fixture.Revisions) > 0
	if err := printStage(out, staged, "initial", result, format, timing, time.Since(start)); err != nil {
		return err
	}
	input := fixture.Input
	for i, rev := range fixture.Revisions {
		name := rev.Name
		if name == "" {
			name = fmt.Sprintf("revision %d", i+1)
		}
		input = rev.Apply(input)
		start := time.Now()
		result.Self().Update(input)
		if rev.Revalidate {
			err = result.Revalidate()
		} else {
			err = result.Rerender()
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := printStage(out, staged, name, result, format, timing, time.Since(start)); err != nil {
			return err
		}
	}
	return nil
}

var stageColor = color.New(color.FgCyan, color.Bold).SprintFunc()

func printStage(w io.Writer, staged bool, name string, result *rendervm.Result, format string, timing bool, dt time.Duration) error {
	output, err := getOutput(result, format)
	if err != nil {
		return err
	}
	if staged {
		fmt.Fprintln(w, stageColor("== "+name))
	}
	fmt.Fprintln(w, output)
	if timing {
		fmt.Fprintf(w, "%v\n", dt)
	}
	return nil
}

// getFixture determines what is to be rendered. There are three
// possibilities: --code, --stdin or a path as args[0].
func getFixture(cmd *cobra.Command, args []string) (*Fixture, error) {
	codeSet := cmd.Flags().Changed("code")
	stdinSet, _ := cmd.Flags().GetBool("stdin")
	pathSupplied := len(args) > 0
	count := 0
	for _, set := range []bool{codeSet, stdinSet, pathSupplied} {
		if set {
			count++
		}
	}
	if count > 1 {
		return nil, errors.New("multiple input sources specified")
	}
	if count == 0 {
		return nil, errors.New("no input provided")
	}

	if pathSupplied && filepath.Ext(args[0]) == ".toml" {
		if cmd.Flags().Changed("input") {
			return nil, errors.New("--input cannot be combined with a fixture")
		}
		return LoadFixture(args[0])
	}

	f := &Fixture{}
	switch {
	case stdinSet:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
		f.Source = string(data)
	case pathSupplied:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, err
		}
		f.Source = string(data)
		f.SourceFile = args[0]
	default:
		f.Source, _ = cmd.Flags().GetString("code")
	}
	if input, _ := cmd.Flags().GetString("input"); input != "" {
		if err := json.Unmarshal([]byte(input), &f.Input); err != nil {
			return nil, fmt.Errorf("--input: %w", err)
		}
	}
	return f, nil
}
