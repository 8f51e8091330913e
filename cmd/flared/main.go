package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/daimatz/flared/pkg/cil"
	"github.com/daimatz/flared/pkg/devirt"
	"github.com/daimatz/flared/pkg/dotnet"
)

var (
	colorLabel = color.New(color.Bold).SprintFunc()
	colorToken = color.New(color.FgHiCyan).SprintfFunc()
	colorPath  = color.New(color.FgHiGreen).SprintFunc()
)

var landmarkLabels = map[devirt.Landmark]string{
	devirt.RuntimeClass:        "Flare-on runtime class",
	devirt.SetupMethod:         "Flare-on setup method",
	devirt.StaticBuilderMethod: "Flare-on static builder method",
	devirt.BuilderMethod:       "Flare-on builder method",
}

func newRootCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "flared <assembly>",
		Short: "Restore the methods hidden by the Flare-On 8 virtualizer",
		Long: `flared locates the runtime of a Flare-On 8 protected .NET assembly,
rebuilds every stub method it can and writes <name>-flared<ext> next to the input.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.NoColor {
				color.NoColor = true
			}
			log.SetLevel(cfg.LogLevel)
			if err := run(cmd.OutOrStdout(), args[0], cfg); err != nil {
				return err
			}
			if !cfg.NoWait {
				bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			}
			return nil
		},
	}
}

func run(w io.Writer, path string, cfg *config) error {
	m, err := dotnet.Open(path)
	if err != nil {
		return err
	}
	rep, err := devirt.Run(m, func(l devirt.Landmark, tok cil.Token) {
		fmt.Fprintf(w, "%s: %s\n", colorLabel(landmarkLabels[l]), colorToken("0x%s", tok))
	})
	if err != nil {
		return err
	}
	dest := outputPath(path)
	fmt.Fprintln(w, "Writing file...")
	err = m.Write(dest, dotnet.WriteOptions{
		SectionName:     cfg.SectionName,
		RemovedSections: rep.Sections(),
		KeepSections:    cfg.KeepSections,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "File written to %s\n", colorPath(dest))
	return nil
}

func main() {
	log.SetHandler(cli.New(os.Stdout))

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := newRootCmd(cfg).Execute(); err != nil {
		log.WithError(err).Error("flared failed")
		os.Exit(1)
	}
}
