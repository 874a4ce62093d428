package main

import (
	"fmt"
	"os"

	"github.com/gookit/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hibervm-dev/hibervm/runfile"
	"github.com/hibervm-dev/hibervm/snapshot"
)

var (
	compileOut string
	disasmFlag bool
)

var compileCmd = &cobra.Command{
	Use:   "compile RUNFILE",
	Short: "Compile a script to a portable program snapshot",
	Args:  cobra.ExactArgs(1),
	Run:   compileCommand,
}

func init() {
	compileCmd.Flags().StringVarP(&compileOut, "out", "o", "", "Write the encoded program here")
	compileCmd.Flags().BoolVar(&disasmFlag, "disasm", false, "Print the compiled bytecode")
}

func compileCommand(cmd *cobra.Command, args []string) {
	rf, err := runfile.LoadFromFile(args[0])
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't load runfile")
	}
	prog, err := rf.Compile()
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't compile program")
	}
	if disasmFlag {
		prog.DebugPrint()
	}
	fp, err := snapshot.Fingerprint(prog)
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't fingerprint program")
	}
	fmt.Fprintf(os.Stderr, "fingerprint: %016x\n", fp)
	if compileOut == "" {
		return
	}
	data, err := snapshot.DumpProgram(prog)
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't encode program")
	}
	if err := os.WriteFile(compileOut, data, 0o644); err != nil {
		log.Fatal().Err(err).Msg("Couldn't write program")
	}
	fmt.Fprintln(os.Stderr, color.Green.Sprintf("✓ Program written to %s", compileOut))
}
