package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hibervm-dev/hibervm/hostfs"
	"github.com/hibervm-dev/hibervm/interp"
	"github.com/hibervm-dev/hibervm/runfile"
	"github.com/hibervm-dev/hibervm/snapshot"
)

var (
	resultJSON   string
	raiseType    string
	raiseMessage string
	resetLimits  bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume RUNFILE SNAPSHOT",
	Short: "Resume a suspended run with the external call's result",
	Args:  cobra.ExactArgs(2),
	Run:   resumeCommand,
}

func init() {
	resumeCmd.Flags().StringVar(&resultJSON, "result", "null", "External call result as a JSON literal")
	resumeCmd.Flags().StringVar(&raiseType, "raise", "", "Raise this exception type inside the program instead of a result")
	resumeCmd.Flags().StringVar(&raiseMessage, "message", "", "Message for --raise")
	resumeCmd.Flags().BoolVar(&resetLimits, "reset-limits", false, "Zero the step and time counters before resuming")
	resumeCmd.Flags().StringVar(&snapshotOut, "snapshot", "", "If the run suspends again, write it here")
}

func resumeCommand(cmd *cobra.Command, args []string) {
	rf, err := runfile.LoadFromFile(args[0])
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't load runfile")
	}
	prog, err := rf.Compile()
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't compile program")
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't read snapshot")
	}
	opts := snapshot.RunOptions{
		Sink: interp.WriterSink{W: os.Stdout},
	}
	if rf.Run.FsRoot != "" {
		opts.Capability = hostfs.New(rf.Run.FsRoot)
	}
	if resetLimits {
		opts.Policy = snapshot.Reset
	}
	r, err := snapshot.LoadRun(data, prog, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't restore run")
	}

	var out interp.Outcome
	if raiseType != "" {
		out, err = r.ResumeRaise(raiseType, raiseMessage)
	} else if r.Status == interp.Ready {
		out, err = r.Start()
	} else {
		result, perr := hostValueFromJSON(resultJSON)
		if perr != nil {
			log.Fatal().Err(perr).Msg("Bad --result")
		}
		out, err = r.Resume(result)
	}
	reportOutcome(r, out, err)
}
