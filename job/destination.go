package job

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrNoDestination = errors.New("no destination folder")

// DestinationPrompt asks for the destination folder of a batch. It is
// called from the worker goroutine at most once per batch, for the first
// job that needs it.
type DestinationPrompt func(j *Job) (string, error)

// ResolveDestination returns the folder an archive is expanded into. List
// and test commands have no destination. asked is the folder chosen for
// the running batch when the mode is DestinationAsk.
func ResolveDestination(kind Kind, d Destination, archivePath, asked string) (string, error) {
	if kind != KindExpand {
		return "", nil
	}

	var folder string
	switch d.Mode {
	case DestinationFixed:
		folder = d.Folder
	case DestinationAsk:
		folder = asked
	case DestinationSameAsArchive, "":
		folder = filepath.Dir(archivePath)
	default:
		return "", fmt.Errorf("unknown destination mode %q", d.Mode)
	}
	if folder == "" {
		return "", ErrNoDestination
	}

	if d.CreateSurroundingFolder {
		base := filepath.Base(archivePath)
		folder = filepath.Join(folder, strings.TrimSuffix(base, filepath.Ext(base)))
	}
	return folder, nil
}

func (e *Engine) destination(cmd Command, j *Job, asked *string) (string, error) {
	if cmd.Kind == KindExpand && cmd.Destination.Mode == DestinationAsk && *asked == "" {
		if e.prompt == nil {
			return "", fmt.Errorf("%w: nobody to ask", ErrNoDestination)
		}
		folder, err := e.prompt(j)
		if err != nil {
			return "", err
		}
		*asked = folder
	}
	return ResolveDestination(cmd.Kind, cmd.Destination, j.FilePath, *asked)
}
