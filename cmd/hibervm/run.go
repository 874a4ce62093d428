package main

import (
	"fmt"
	"os"

	"github.com/gookit/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hibervm-dev/hibervm/hostfs"
	"github.com/hibervm-dev/hibervm/interp"
	"github.com/hibervm-dev/hibervm/runfile"
	"github.com/hibervm-dev/hibervm/snapshot"
)

var (
	debugFlag   bool
	snapshotOut string
)

var runCmd = &cobra.Command{
	Use:   "run RUNFILE",
	Short: "Run a script under the sandbox",
	Args:  cobra.ExactArgs(1),
	Run:   runCommand,
}

func init() {
	runCmd.Flags().BoolVar(&debugFlag, "debug", false, "Print the compiled bytecode before running")
	runCmd.Flags().StringVar(&snapshotOut, "snapshot", "", "On an external call, write the suspended run here and exit")
}

func runCommand(cmd *cobra.Command, args []string) {
	rf, err := runfile.LoadFromFile(args[0])
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't load runfile")
	}
	prog, err := rf.Compile()
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't compile program")
	}
	if debugFlag {
		prog.DebugPrint()
	}
	limits, err := rf.ResourceLimits()
	if err != nil {
		log.Fatal().Err(err).Msg("Bad limits")
	}
	inputs, err := rf.HostInputs()
	if err != nil {
		log.Fatal().Err(err).Msg("Bad inputs")
	}
	opts := interp.Options{
		Limits: limits,
		Inputs: inputs,
		Sink:   interp.WriterSink{W: os.Stdout},
	}
	if rf.Run.FsRoot != "" {
		opts.Capability = hostfs.New(rf.Run.FsRoot)
	}

	r, err := interp.NewRun(prog, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't create run")
	}
	out, err := r.Start()
	reportOutcome(r, out, err)
}

// reportOutcome prints the result of a driving call and handles the
// suspended case, shared by run and resume.
func reportOutcome(r *interp.Run, out interp.Outcome, err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("Run failed")
	}
	switch out.Status {
	case interp.Done:
		fmt.Fprintln(os.Stderr, color.Green.Sprint("✓ Run finished"))
		fmt.Println(hostValueJSON(out.Result))
	case interp.Suspended:
		fmt.Fprintln(os.Stderr, color.Cyan.Sprintf("Run suspended on external call %s", out.Call.Function))
		fmt.Fprintf(os.Stderr, "  call_id: %s\n", out.Call.CallID)
		for i, a := range out.Call.Args {
			fmt.Fprintf(os.Stderr, "  arg[%d]: %s\n", i, hostValueJSON(a))
		}
		for _, kw := range out.Call.Kwargs {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", kw.Key, hostValueJSON(kw.Value))
		}
		if snapshotOut == "" {
			log.Fatal().Msg("No --snapshot destination; suspended state would be lost")
		}
		data, err := snapshot.DumpRun(r)
		if err != nil {
			log.Fatal().Err(err).Msg("Couldn't snapshot run")
		}
		if err := os.WriteFile(snapshotOut, data, 0o644); err != nil {
			log.Fatal().Err(err).Msg("Couldn't write snapshot")
		}
		fmt.Fprintln(os.Stderr, color.Cyan.Sprintf("Suspended run written to %s", snapshotOut))
	default:
		log.Fatal().Str("status", out.Status.String()).Msg("Unexpected run status")
	}
	counters := r.Counters()
	fmt.Fprintf(os.Stderr, "steps: %d  heap: %d bytes  elapsed: %s\n",
		counters.Steps, counters.HeapBytes, counters.Elapsed)
}
