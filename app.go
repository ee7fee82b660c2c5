package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go_analyzer/analysis"
	"go_analyzer/core"
	"go_analyzer/imaging"
	"go_analyzer/logging"
	"go_analyzer/session"

	"go.uber.org/zap"
)

var errTimedOut = errors.New(analysis.MsgTimedOut)

// app drives a session from the command line and renders its transitions.
type app struct {
	coord     *session.Coordinator
	logger    *logging.Logger
	outDir    string
	thumbnail int

	mu  sync.Mutex
	out io.Writer
}

func newApp(coord *session.Coordinator, logger *logging.Logger, out io.Writer, outDir string, thumbnail int) *app {
	return &app{
		coord:     coord,
		logger:    logger,
		out:       out,
		outDir:    outDir,
		thumbnail: thumbnail,
	}
}

func (a *app) print(fn func(w io.Writer)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.out)
}

// watch renders every state change until the session closes. The returned
// channel is closed once the last change has been printed.
func (a *app) watch() <-chan struct{} {
	states, _ := a.coord.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range states {
			a.print(func(w io.Writer) { printState(w, s) })
		}
	}()
	return done
}

// runOnce selects path, submits it and saves the result.
func (a *app) runOnce(ctx context.Context, path string) error {
	if err := a.selectPath(path); err != nil {
		return err
	}
	if err := a.coord.SubmitCurrentFile(ctx); err != nil {
		return err
	}
	s, err := a.coord.Wait(ctx)
	if err != nil {
		return err
	}
	return a.finish(s)
}

func (a *app) finish(s session.State) error {
	switch s.Status {
	case session.StatusSuccess:
		return a.saveResult(s)
	case session.StatusError:
		if s.TimedOut {
			return errTimedOut
		}
		return errors.New(s.ErrorMessage)
	default:
		return session.ErrCancelled
	}
}

func (a *app) selectPath(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		a.print(func(w io.Writer) { printProblem(w, "cannot read %s: %v", path, err) })
		return err
	}
	return a.coord.SelectFile(analysis.NewFile(filepath.Base(path), "", data))
}

// saveResult writes the live result, plus a thumbnail when enabled. A
// thumbnail failure is reported but does not fail the save.
func (a *app) saveResult(s session.State) error {
	data, contentType, err := a.coord.OpenResult()
	if err != nil {
		return err
	}
	name := resultName(s.FileName, contentType)
	path, err := writeAtomic(a.outDir, name, data)
	if err != nil {
		a.logger.Error("failed to save result", zap.String("file", name), zap.Error(err))
		a.print(func(w io.Writer) { printProblem(w, "%v", err) })
		return err
	}
	a.logger.Info("result saved", zap.String("path", path), zap.Int("size_bytes", len(data)))
	a.print(func(w io.Writer) { printSaved(w, "result", path) })

	if a.thumbnail <= 0 {
		return nil
	}
	thumb, err := imaging.Thumbnail(data, a.thumbnail)
	if err == nil {
		path, err = writeAtomic(a.outDir, thumbnailName(name), thumb)
	}
	if err != nil {
		a.logger.Warn("thumbnail skipped", zap.String("file", name), zap.Error(err))
		a.print(func(w io.Writer) { printProblem(w, "thumbnail skipped: %v", err) })
		return nil
	}
	a.print(func(w io.Writer) { printSaved(w, "thumbnail", path) })
	return nil
}

// runInteractive reads slash commands from in until /quit, EOF or ctx
// ends. quit is called on /quit so the rest of the process shuts down too.
func (a *app) runInteractive(ctx context.Context, in io.Reader, quit func()) int {
	a.print(printHelp)

	var uploads sync.WaitGroup
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return core.ExitCodeSuccess
		case line, ok = <-lines:
			if !ok {
				return core.ExitCodeSuccess
			}
		}

		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "":
		case "/select":
			if arg == "" {
				a.print(func(w io.Writer) { printProblem(w, "usage: /select <path>") })
				continue
			}
			a.selectPath(arg)
		case "/submit":
			// Runs in the background so /reset and /select can cancel it;
			// watch reports the outcome.
			uploads.Add(1)
			go func() {
				defer uploads.Done()
				a.coord.SubmitCurrentFile(ctx)
			}()
		case "/wait":
			uploads.Wait()
			if _, err := a.coord.Wait(ctx); err != nil {
				return core.ExitCodeSuccess
			}
		case "/save":
			s := a.coord.State()
			if s.Status != session.StatusSuccess {
				a.print(func(w io.Writer) { printProblem(w, "no result to save") })
				continue
			}
			a.saveResult(s)
		case "/status":
			s := a.coord.State()
			a.print(func(w io.Writer) { printState(w, s) })
		case "/reset":
			a.coord.Reset()
		case "/help":
			a.print(printHelp)
		case "/quit", "/exit":
			quit()
			return core.ExitCodeSuccess
		default:
			a.print(func(w io.Writer) { printProblem(w, "unknown command %q, try /help", cmd) })
		}
	}
}
