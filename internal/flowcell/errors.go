package flowcell

import (
	"fmt"
	"strings"
)

// FatalError ends an organize run. Msg is the message shown to the operator
// after "Quitting: ".
type FatalError struct {
	Msg string
	Err error
}

func (e *FatalError) Error() string {
	return e.Msg
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func tooManyFlowcellsError(dirs []string) *FatalError {
	return &FatalError{Msg: fmt.Sprintf(
		"Only one flowcell can be specified at this point. The following flowcells have been specified: %s",
		strings.Join(dirs, ","))}
}

// noProjectsError distinguishes an empty result caused by restriction lists
// from one where nothing was found at all.
func noProjectsError(dirs, restrictProjects, restrictSamples []string) *FatalError {
	fcDirs := strings.Join(dirs, ",")
	switch {
	case len(restrictProjects) > 0:
		return &FatalError{Msg: fmt.Sprintf(
			"No projects found to process; the specified flowcells (%s) do not contain the specified project(s) (%s) or there was an error gathering required information.",
			fcDirs, strings.Join(restrictProjects, ","))}
	case len(restrictSamples) > 0:
		return &FatalError{Msg: fmt.Sprintf(
			"No projects found to process; the specified flowcells (%s) do not contain the specified sample(s) (%s) or there was an error gathering required information.",
			fcDirs, strings.Join(restrictSamples, ","))}
	default:
		return &FatalError{Msg: fmt.Sprintf(
			"No projects found to process in flowcells %s or there was an error gathering required information.",
			fcDirs)}
	}
}
