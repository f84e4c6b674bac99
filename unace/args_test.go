package unace

import (
	"os"
	"testing"

	"acexpander/job"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandLetter(t *testing.T) {
	assert.Equal(t, CmdExtract, CommandLetter(job.Command{Kind: job.KindExpand}))
	assert.Equal(t, CmdExtractWithFullPath, CommandLetter(job.Command{Kind: job.KindExpand, ExtractFullPath: true}))
	assert.Equal(t, CmdList, CommandLetter(job.Command{Kind: job.KindList}))
	assert.Equal(t, CmdListVerbosely, CommandLetter(job.Command{Kind: job.KindList, ListVerbosely: true}))
	assert.Equal(t, CmdTest, CommandLetter(job.Command{Kind: job.KindTest, ExtractFullPath: true}))
}

func TestSwitches(t *testing.T) {
	t.Run("all off", func(t *testing.T) {
		assert.Equal(t, []string{"-o-", "-y-", "-c-"}, Switches(job.Command{}))
	})

	t.Run("all on with password", func(t *testing.T) {
		cmd := job.Command{Overwrite: true, AssumeYes: true, ShowComments: true, UsePassword: true, Password: "s3cret"}
		assert.Equal(t, []string{"-o+", "-y+", "-c+", "-ps3cret"}, Switches(cmd))
	})

	t.Run("password ignored unless enabled", func(t *testing.T) {
		assert.Equal(t, []string{"-o-", "-y-", "-c-"}, Switches(job.Command{Password: "s3cret"}))
	})
}

func TestBuildArgs(t *testing.T) {
	sep := string(os.PathSeparator)

	t.Run("expand with destination", func(t *testing.T) {
		cmd := job.Command{Kind: job.KindExpand, ExtractFullPath: true, Overwrite: true}
		args := BuildArgs(cmd, "/in/a.ace", "/out")
		assert.Equal(t, []string{"x", "-o+", "-y-", "-c-", "/in/a.ace", "/out" + sep}, args)
	})

	t.Run("separator is not doubled", func(t *testing.T) {
		args := BuildArgs(job.Command{Kind: job.KindExpand}, "a.ace", "out"+sep)
		assert.Equal(t, "out"+sep, args[len(args)-1])
	})

	t.Run("list has no destination", func(t *testing.T) {
		args := BuildArgs(job.Command{Kind: job.KindList}, "a.ace", "")
		assert.Equal(t, []string{"l", "-o-", "-y-", "-c-", "a.ace"}, args)
	})
}

func TestMaskArgs(t *testing.T) {
	args := []string{"-pfirst", "x", "-o-", "-phidden", "a.ace"}
	assert.Equal(t, []string{"-pfirst", "x", "-o-", "-p****", "a.ace"}, maskArgs(args))
	assert.Equal(t, "-phidden", args[3])
}

func TestSplitCommand(t *testing.T) {
	bin, prefix, err := SplitCommand(`wine "/opt/ace tools/unace.exe"`)
	require.NoError(t, err)
	assert.Equal(t, "wine", bin)
	assert.Equal(t, []string{"/opt/ace tools/unace.exe"}, prefix)

	bin, prefix, err = SplitCommand("unace")
	require.NoError(t, err)
	assert.Equal(t, "unace", bin)
	assert.Empty(t, prefix)

	_, _, err = SplitCommand("   ")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "empty executable command")
}

func TestValidateArchivePath(t *testing.T) {
	t.Run("valid path", func(t *testing.T) {
		assert.NoError(t, ValidateArchivePath("/archives/my music.ace"))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Error(t, ValidateArchivePath(" "))
	})

	t.Run("looks like a switch", func(t *testing.T) {
		err := ValidateArchivePath("-y+.ace")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "would be read as a switch")
	})

	t.Run("disallowed character (newline)", func(t *testing.T) {
		err := ValidateArchivePath("a\nb.ace")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in archive path")
	})
}
