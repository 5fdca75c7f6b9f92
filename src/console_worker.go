package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/brewlab/brewctl/src/engine"
)

// ANSI color codes for highlighting changes
const (
	ansiReset  = "\033[0m"
	ansiYellow = "\033[33m" // Yellow for changed values
)

// watchFields are the snapshot values the console can follow
var watchFields = map[string]func(s *engine.Snapshot) string{
	"drum":      func(s *engine.Snapshot) string { return formatConsoleValue(s.Drum.Current) },
	"grinder":   func(s *engine.Snapshot) string { return fmt.Sprintf("%.3f", s.Grinder.Current) },
	"flow":      func(s *engine.Snapshot) string { return formatConsoleValue(s.Flow.EstimatedRate) },
	"dispensed": func(s *engine.Snapshot) string { return formatConsoleValue(s.Flow.Dispensed) },
	"pump":      func(s *engine.Snapshot) string { return formatConsoleValue(s.Flow.Output) },
	"heater":    func(s *engine.Snapshot) string { return formatConsoleValue(s.Heater.Power) },
	"queue":     func(s *engine.Snapshot) string { return fmt.Sprintf("%d", s.QueueLen) },
	"delay":     func(s *engine.Snapshot) string { return formatConsoleValue(s.DelayRemaining) },
}

// formatConsoleValue formats a float with smart precision
func formatConsoleValue(v float64) string {
	if v >= 100 || v <= -100 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

// ConsoleState tracks watched fields for the interactive console
type ConsoleState struct {
	out           io.Writer
	rl            *readline.Instance
	watches       []string
	headerPrinted bool
	columnWidths  []int
	prevValues    map[string]string // Track previous value per watch for change highlighting
}

func NewConsoleState(out io.Writer) *ConsoleState {
	return &ConsoleState{
		out:        out,
		prevValues: make(map[string]string),
	}
}

// print outputs a line, handling readline prompt properly
func (s *ConsoleState) print(format string, args ...any) {
	if s.rl != nil {
		s.rl.Clean()
		defer s.rl.Refresh()
	}
	fmt.Fprintf(s.out, format+"\n", args...)
}

// AddWatch adds a field and re-sorts the list
func (s *ConsoleState) AddWatch(field string) error {
	if _, ok := watchFields[field]; !ok {
		return fmt.Errorf("unknown field %q", field)
	}
	if slices.Contains(s.watches, field) {
		s.print("Already watching: %s", field)
		return nil
	}
	s.watches = append(s.watches, field)
	sort.Strings(s.watches)
	s.headerPrinted = false
	s.print("Watching: %s", field)
	return nil
}

// RemoveWatch removes a field, or every field for "--all"
func (s *ConsoleState) RemoveWatch(field string) bool {
	if field == "--all" {
		s.watches = s.watches[:0]
		s.headerPrinted = false
		s.print("All watches removed")
		return true
	}
	i := slices.Index(s.watches, field)
	if i < 0 {
		s.print("No watch found for: %s", field)
		return false
	}
	s.watches = slices.Delete(s.watches, i, i+1)
	s.headerPrinted = false
	s.print("Unwatched: %s", field)
	return true
}

// PrintHeader prints the column headers
func (s *ConsoleState) PrintHeader() {
	if len(s.watches) == 0 {
		return
	}
	s.columnWidths = make([]int, len(s.watches))
	parts := make([]string, 0, len(s.watches))
	for i, w := range s.watches {
		s.columnWidths[i] = len(w)
		parts = append(parts, fmt.Sprintf("%*s", s.columnWidths[i], w))
	}
	s.print("%s", strings.Join(parts, " | "))
	s.headerPrinted = true
	s.prevValues = make(map[string]string)
}

// PrintRow prints the watched values, only when at least one changed
func (s *ConsoleState) PrintRow(snap *engine.Snapshot) {
	if len(s.watches) == 0 || snap == nil {
		return
	}
	if !s.headerPrinted {
		s.PrintHeader()
	}

	parts := make([]string, 0, len(s.watches))
	anyChanged := false
	newValues := make(map[string]string, len(s.watches))

	for i, w := range s.watches {
		value := watchFields[w](snap)
		newValues[w] = value

		width := max(s.columnWidths[i], len(value))
		s.columnWidths[i] = width

		prevValue, hasPrev := s.prevValues[w]
		if !hasPrev || prevValue != value {
			anyChanged = true
			parts = append(parts, fmt.Sprintf("%s%*s%s", ansiYellow, width, value, ansiReset))
		} else {
			parts = append(parts, fmt.Sprintf("%*s", width, value))
		}
	}

	if anyChanged {
		s.print("%s", strings.Join(parts, " | "))
		s.prevValues = newValues
	}
}

// PrintStatus writes the whole snapshot as indented JSON
func (s *ConsoleState) PrintStatus(snap *engine.Snapshot) {
	if snap == nil {
		s.print("No snapshot yet")
		return
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		s.print("Error: %v", err)
		return
	}
	s.print("%s", data)
}

func (s *ConsoleState) printHelp() {
	fields := make([]string, 0, len(watchFields))
	for f := range watchFields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	s.print("Commands:")
	s.print("  status              - Print the current machine snapshot")
	s.print("  watch <field>       - Print a field whenever it changes")
	s.print("  unwatch <field>     - Stop watching (or --all)")
	s.print("  quit                - Shut down the controller")
	s.print("  help                - Show this help")
	s.print("Anything else is sent to the machine as a command line, e.g.")
	s.print("  R-500 G-0.05 P-100-5 S-A-10 H-80 D-2000 H-0")
	s.print("Watchable fields: %s", strings.Join(fields, ", "))
}

// handleConsoleCommand processes one console line. Lines that are not console
// commands are submitted to the control loop.
func handleConsoleCommand(
	ctx context.Context,
	line string,
	state *ConsoleState,
	requests chan<- engine.Request,
	snapshot func() *engine.Snapshot,
	quit func(),
) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}

	switch strings.ToLower(parts[0]) {
	case "status":
		state.PrintStatus(snapshot())

	case "watch":
		if len(parts) < 2 {
			state.print("Usage: watch <field>")
			return
		}
		if err := state.AddWatch(parts[1]); err != nil {
			state.print("Error: %v", err)
		}

	case "unwatch":
		if len(parts) < 2 {
			state.print("Usage: unwatch <field> | unwatch --all")
			return
		}
		state.RemoveWatch(parts[1])

	case "help":
		state.printHelp()

	case "quit", "exit":
		state.print("Shutting down...")
		quit()

	default:
		sendCtx, cancel := context.WithTimeout(ctx, submitTimeout)
		defer cancel()
		adm, err := engine.Send(sendCtx, requests, line)
		if err != nil {
			state.print("Error: %v", err)
			return
		}
		state.print("%s", adm.String())
	}
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the app
			return
		}
		if err != nil {
			return // EOF or other error
		}
		line = strings.TrimSpace(line)
		if line != "" {
			select {
			case commandChan <- line:
			case <-ctx.Done():
				return
			}
		}
	}
}

// getHistoryFilePath returns the path for the console history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	brewctlCache := filepath.Join(cacheDir, "brewctl")
	_ = os.MkdirAll(brewctlCache, 0750)
	return filepath.Join(brewctlCache, "console_history")
}

// consoleWorker reads command lines from the terminal
func consoleWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	requests chan<- engine.Request,
	snapshot func() *engine.Snapshot,
	refresh time.Duration,
	log *zap.SugaredLogger,
) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "brew> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Warnf("Console: readline init failed: %v", err)
		return
	}
	defer func() {
		_ = rl.Close()
		rlWriter.rl = nil // Clear readline reference on exit
	}()

	// Route log output through the readline-aware writer
	rlWriter.rl = rl

	log.Infof("Console started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	state := NewConsoleState(os.Stdout)
	state.rl = rl

	go readlineLoop(ctx, cancel, rl, commandChan)

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case line := <-commandChan:
			handleConsoleCommand(ctx, line, state, requests, snapshot, cancel)
		case <-ticker.C:
			state.PrintRow(snapshot())
		case <-ctx.Done():
			log.Infof("Console stopped")
			return
		}
	}
}
