package unace

import (
	"os"
	"strings"

	"acexpander/job"
)

// Command letters and switches understood by unace.
const (
	CmdExtract             = "e"
	CmdExtractWithFullPath = "x"
	CmdList                = "l"
	CmdListVerbosely       = "v"
	CmdTest                = "t"

	SwitchShowComments   = "-c"
	SwitchOverwriteFiles = "-o"
	SwitchUsePassword    = "-p"
	SwitchAssumeYes      = "-y"

	// SwitchVersion is a pseudo switch, unace itself does not know it. It
	// is only used to probe the executable.
	SwitchVersion = "--version"
)

// CommandLetter picks the unace command for a job command.
func CommandLetter(cmd job.Command) string {
	switch cmd.Kind {
	case job.KindList:
		if cmd.ListVerbosely {
			return CmdListVerbosely
		}
		return CmdList
	case job.KindTest:
		return CmdTest
	}
	if cmd.ExtractFullPath {
		return CmdExtractWithFullPath
	}
	return CmdExtract
}

// Switches renders the switch list. Boolean switches are always passed
// explicitly, turned on with "+" and off with "-".
func Switches(cmd job.Command) []string {
	switches := []string{
		toggle(SwitchOverwriteFiles, cmd.Overwrite),
		toggle(SwitchAssumeYes, cmd.AssumeYes),
		toggle(SwitchShowComments, cmd.ShowComments),
	}
	if cmd.UsePassword {
		switches = append(switches, SwitchUsePassword+cmd.Password)
	}
	return switches
}

func toggle(sw string, on bool) string {
	if on {
		return sw + "+"
	}
	return sw + "-"
}

// BuildArgs returns the argument vector for one invocation:
// command letter, switches, archive and, if set, the destination folder.
// Empty strings are never emitted; unace treats them as an archive name.
func BuildArgs(cmd job.Command, archivePath, destination string) []string {
	args := append([]string{CommandLetter(cmd)}, Switches(cmd)...)
	args = append(args, archivePath)
	if destination != "" {
		if !strings.HasSuffix(destination, string(os.PathSeparator)) {
			destination += string(os.PathSeparator)
		}
		args = append(args, destination)
	}
	return args
}

// maskArgs hides the password before arguments are logged.
func maskArgs(args []string) []string {
	masked := make([]string, len(args))
	for i, arg := range args {
		if i > 0 && strings.HasPrefix(arg, SwitchUsePassword) {
			masked[i] = SwitchUsePassword + "****"
			continue
		}
		masked[i] = arg
	}
	return masked
}
