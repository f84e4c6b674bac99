package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"acexpander/config"
	"acexpander/job"
	"acexpander/listing"
	"acexpander/unace"

	"github.com/spf13/cobra"
)

// run flag names
const (
	flagCommand           = "command"
	flagOverwrite         = "overwrite"
	flagFullPath          = "full-path"
	flagAssumeYes         = "assume-yes"
	flagShowComments      = "show-comments"
	flagListVerbosely     = "list-verbosely"
	flagPassword          = "password"
	flagDestination       = "dest"
	flagAskDestination    = "ask"
	flagSurroundingFolder = "surrounding-folder"
	flagRecursive         = "recursive"
	flagAllFiles          = "all-files"
	flagDebug             = "debug"
)

var (
	errNoArchives = errors.New("no archives found")
	errEventsLost = errors.New("lost track of the batch, too many events at once")
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <archive|folder>...",
	Short: "Process archives once and print the results",
	Long: `run queues the given archives, processes them with the configured command
and prints each result. Flags override the configuration for this run only.
Ctrl+C stops the batch: the running archive is aborted and the rest is left
untouched.`,
	Args: cobra.MinimumNArgs(1),
	RunE: doRun,
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP(flagCommand, "c", "", "Command to run: expand, list or test")
	f.BoolP(flagOverwrite, "o", false, "Overwrite existing files")
	f.BoolP(flagFullPath, "x", false, "Extract with full paths")
	f.BoolP(flagAssumeYes, "y", false, "Assume yes on all queries")
	f.Bool(flagShowComments, false, "Show archive comments")
	f.BoolP(flagListVerbosely, "v", false, "List verbosely")
	f.StringP(flagPassword, "p", "", "Password for encrypted archives")
	f.StringP(flagDestination, "d", "", "Expand into this folder")
	f.Bool(flagAskDestination, false, "Ask for the destination folder once per run")
	f.Bool(flagSurroundingFolder, false, "Expand each archive into a folder named after it")
	f.BoolP(flagRecursive, "r", false, "Look into folders for archives")
	f.Bool(flagAllFiles, false, "Treat every file as an archive")
	f.Bool(flagDebug, false, "Log arguments and output of every unace call")
}

// commandFromFlags applies the flags the user set on top of base.
func commandFromFlags(cmd *cobra.Command, base job.Command) (job.Command, error) {
	f := cmd.Flags()
	c := base

	if f.Changed(flagCommand) {
		s, _ := f.GetString(flagCommand)
		kind, err := job.ParseKind(s)
		if err != nil {
			return job.Command{}, err
		}
		c.Kind = kind
	}

	boolFlag := func(name string, dst *bool) {
		if f.Changed(name) {
			*dst, _ = f.GetBool(name)
		}
	}
	boolFlag(flagOverwrite, &c.Overwrite)
	boolFlag(flagFullPath, &c.ExtractFullPath)
	boolFlag(flagAssumeYes, &c.AssumeYes)
	boolFlag(flagShowComments, &c.ShowComments)
	boolFlag(flagListVerbosely, &c.ListVerbosely)
	boolFlag(flagSurroundingFolder, &c.Destination.CreateSurroundingFolder)
	boolFlag(flagDebug, &c.Debug)

	if f.Changed(flagPassword) {
		c.Password, _ = f.GetString(flagPassword)
		c.UsePassword = c.Password != ""
	}
	if f.Changed(flagDestination) {
		c.Destination.Mode = job.DestinationFixed
		c.Destination.Folder, _ = f.GetString(flagDestination)
	}
	if ask, _ := f.GetBool(flagAskDestination); ask {
		c.Destination.Mode = job.DestinationAsk
	}

	if err := c.Validate(); err != nil {
		return job.Command{}, err
	}
	return c, nil
}

func collectFromFlags(cmd *cobra.Command, base job.CollectOptions) job.CollectOptions {
	f := cmd.Flags()
	if f.Changed(flagRecursive) {
		base.LookIntoFolders, _ = f.GetBool(flagRecursive)
	}
	if f.Changed(flagAllFiles) {
		base.TreatAllFilesAsArchives, _ = f.GetBool(flagAllFiles)
	}
	return base
}

// promptDestination asks on out and reads the folder from in.
func promptDestination(in io.Reader, out io.Writer) job.DestinationPrompt {
	scanner := bufio.NewScanner(in)
	return func(j *job.Job) (string, error) {
		fmt.Fprintf(out, "Destination folder for %s: ", j.FilePath)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", job.ErrNoDestination
		}
		folder := strings.TrimSpace(scanner.Text())
		if folder == "" {
			return "", job.ErrNoDestination
		}
		return folder, nil
	}
}

func doRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	base, err := cfg.JobCommand()
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}
	command, err := commandFromFlags(cmd, base)
	if err != nil {
		return err
	}

	paths, err := job.CollectArchives(args, collectFromFlags(cmd, cfg.CollectOptions()))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errNoArchives
	}

	runner, err := unace.NewRunner(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize unace runner: %w", err)
	}
	engine := job.NewEngine(runner,
		job.WithListingParser(listing.NewParser()),
		job.WithDestinationPrompt(promptDestination(cmd.InOrStdin(), cmd.OutOrStdout())),
	)
	engine.SetCommand(command)

	engineCtx, cancel := context.WithCancel(context.Background())
	engine.Start(engineCtx)
	defer func() {
		cancel()
		<-engine.Done()
	}()

	jobs := engine.Add(paths...)
	return runBatch(cmd.Context(), engine, jobs, cmd.OutOrStdout())
}

// runBatch processes jobs, prints each result as it arrives and waits
// for the batch to end. An interrupt stops the batch.
func runBatch(ctx context.Context, engine *job.Engine, jobs []*job.Job, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := job.NewChannelObserver(len(jobs)*2 + 4)
	unsubscribe := engine.Subscribe(obs)
	defer unsubscribe()
	defer obs.Close()

	if err := engine.ProcessJobs(jobs...); err != nil {
		return err
	}

	interrupted := ctx.Done()
	for done := false; !done; {
		select {
		case <-interrupted:
			fmt.Fprintln(out, "Stopping...")
			engine.StopProcessing()
			interrupted = nil
		case <-obs.Done():
			if len(obs.Events()) == 0 {
				return errEventsLost
			}
		case ev := <-obs.Events():
			switch ev.Type {
			case job.EventBatchStopped:
				done = true
			case job.EventJobChanged:
				if ev.Job != nil && ev.Job.State.Terminal() {
					printResult(out, *ev.Job)
				}
			}
		}
	}

	failed := 0
	for _, j := range jobs {
		if j.State() != job.StateSuccess {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d archives did not succeed", failed, len(jobs))
	}
	return nil
}

func printResult(out io.Writer, v job.View) {
	fmt.Fprintf(out, "[%s] %s\n", v.State, v.FilePath)
	for _, e := range v.Listing {
		lock := " "
		if e.PasswordProtected {
			lock = "*"
		}
		fmt.Fprintf(out, "  %s %s %s %10s %10s %5s  %s\n", lock, e.Date, e.Time, e.Packed, e.Size, e.Ratio, e.FileName)
	}
	if v.State != job.StateSuccess && v.Stderr != "" {
		for _, line := range strings.Split(strings.TrimRight(v.Stderr, "\n"), "\n") {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
}
