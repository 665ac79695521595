package main

import (
	"fmt"

	"github.com/cloudcmds/rendervm"
	"github.com/cloudcmds/rendervm/dis"
	"github.com/spf13/cobra"
)

func newDisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dis [fixture.toml | program.asm]",
		Short: "Disassemble a program",
		Args:  cobra.MaximumNArgs(1),
		RunE:  disHandler,
	}
	flags := cmd.Flags()
	flags.StringP("code", "c", "", "Assembler source to disassemble")
	flags.Bool("stdin", false, "Read assembler source from stdin")
	flags.Bool("stats", false, "Print program statistics after the listing")
	return cmd
}

func disHandler(cmd *cobra.Command, args []string) error {
	fixture, err := getFixture(cmd, args)
	if err != nil {
		return err
	}
	program, err := rendervm.Compile(fixture.Source,
		rendervm.WithFilename(fixture.Filename()),
		rendervm.WithHelpers(builtinHelpers()))
	if err != nil {
		return err
	}
	instructions, err := dis.Disassemble(program.Bytecode())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	dis.Print(instructions, out)

	if withStats, _ := cmd.Flags().GetBool("stats"); withStats {
		stats, err := program.Stats()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "instructions: %d (%d words)\n", stats.InstructionCount, stats.InstructionWords)
		fmt.Fprintf(out, "blocks: %d, strings: %d, numbers: %d, helpers: %d\n",
			stats.BlockCount, stats.StringCount, stats.NumberCount, stats.HelperCount)
	}
	return nil
}
