package main

import (
	"fmt"
	"io"

	"go_analyzer/session"

	"github.com/fatih/color"
)

// printState writes one line describing a session transition.
func printState(w io.Writer, s session.State) {
	var icon string
	var clr *color.Color

	switch s.Status {
	case session.StatusIdle:
		icon = "○"
		clr = color.New(color.FgHiBlack)
	case session.StatusUploading:
		icon = "↑"
		clr = color.New(color.FgCyan)
	case session.StatusProcessing:
		icon = "◌"
		clr = color.New(color.FgYellow)
	case session.StatusSuccess:
		icon = "✓"
		clr = color.New(color.FgGreen)
	case session.StatusError:
		icon = "✗"
		clr = color.New(color.FgRed)
	default:
		icon = "?"
		clr = color.New(color.FgWhite)
	}

	clr.Fprintf(w, "  %s %s", icon, s.Status)

	dim := color.New(color.FgHiBlack)
	switch {
	case s.Status == session.StatusError:
		color.New(color.FgRed).Fprintf(w, " - %s", s.ErrorMessage)
	case s.Status == session.StatusProcessing && s.TaskID != "":
		dim.Fprintf(w, " - task %s", s.TaskID)
	case s.Status == session.StatusSuccess && s.Result != nil:
		dim.Fprintf(w, " - %d bytes (%s)", s.Result.Size(), s.Result.ContentType())
	case s.FileName != "":
		dim.Fprintf(w, " - %s", s.FileName)
		if s.PreviewInfo != nil {
			dim.Fprintf(w, " [%s]", s.PreviewInfo)
		}
	}
	fmt.Fprintln(w)
}

func printSaved(w io.Writer, label, path string) {
	color.New(color.FgGreen, color.Bold).Fprintf(w, "  → %s ", label)
	fmt.Fprintln(w, path)
}

func printProblem(w io.Writer, format string, args ...any) {
	color.New(color.FgRed).Fprintf(w, "  └─ "+format+"\n", args...)
}

func printHelp(w io.Writer) {
	color.New(color.FgCyan, color.Bold).Fprintln(w, "━━━ Commands ━━━")
	fmt.Fprintln(w, "  /select <path>  choose an image")
	fmt.Fprintln(w, "  /submit         upload it and analyze in the background")
	fmt.Fprintln(w, "  /wait           block until the current analysis finishes")
	fmt.Fprintln(w, "  /save           write the last result to the output directory")
	fmt.Fprintln(w, "  /status         show the current state")
	fmt.Fprintln(w, "  /reset          cancel and clear the selection")
	fmt.Fprintln(w, "  /quit           exit")
}
