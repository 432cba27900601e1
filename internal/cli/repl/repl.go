// Package repl runs the interactive judge shell.
package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"judgecore/internal/cli/command"
	"judgecore/internal/cli/state"
	"judgecore/internal/common/httpclient"
	pkgerrors "judgecore/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const defaultPrompt = "judge> "

// Prompter reads one line of input after showing prompt.
type Prompter func(prompt string) (string, error)

// Session holds REPL state.
type Session struct {
	client       *httpclient.Client
	commands     map[string]command.Command
	sessionState *state.SessionState
	statePath    string
	historyFile  string
	prettyJSON   bool
	out          io.Writer
	prompt       Prompter
}

// Options configures a Session.
type Options struct {
	StatePath   string
	HistoryFile string
	PrettyJSON  bool
	// Out and Prompt replace the terminal, mainly for tests.
	Out    io.Writer
	Prompt Prompter
}

func New(client *httpclient.Client, commands map[string]command.Command, sessionState *state.SessionState, opts Options) *Session {
	if sessionState == nil {
		sessionState = &state.SessionState{}
	}
	return &Session{
		client:       client,
		commands:     commands,
		sessionState: sessionState,
		statePath:    opts.StatePath,
		historyFile:  opts.HistoryFile,
		prettyJSON:   opts.PrettyJSON,
		out:          opts.Out,
		prompt:       opts.Prompt,
	}
}

// Run reads commands from the terminal until exit, EOF or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          defaultPrompt,
		HistoryFile:     s.historyFile,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() {
		_ = rl.Close()
	}()
	if s.out == nil {
		s.out = rl.Stdout()
	}
	if s.prompt == nil {
		s.prompt = func(prompt string) (string, error) {
			rl.SetPrompt(prompt)
			defer rl.SetPrompt(defaultPrompt)
			return rl.Readline()
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		if quit := s.Execute(ctx, line); quit {
			s.printLine("bye")
			return nil
		}
	}
}

// Execute handles one input line and reports whether the session should end.
func (s *Session) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	handled, quit := s.handleSystemCommand(line)
	if quit {
		return true
	}
	if handled {
		return false
	}
	if err := s.handleCommand(ctx, line); err != nil {
		s.printLine("error: %v", err)
	}
	return false
}

func (s *Session) completer() readline.AutoCompleter {
	services := map[string][]readline.PrefixCompleterInterface{}
	for _, cmd := range s.commands {
		services[cmd.Service] = append(services[cmd.Service], readline.PcItem(cmd.Action))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout")),
		readline.PcItem("show", readline.PcItem("config"), readline.PcItem("last")),
	}
	for service, actions := range services {
		items = append(items, readline.PcItem(service, actions...))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) handleSystemCommand(line string) (handled bool, quit bool) {
	switch line {
	case "exit", "quit":
		return true, true
	case "help":
		s.printHelp()
		return true, false
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true, false
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true, false
	}
	return false, false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8085")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 90s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil || dur <= 0 {
			s.printLine("invalid duration: %s", parts[1])
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "last":
		if s.sessionState.LastSubmissionID == "" {
			s.printLine("last: <none>")
			return
		}
		s.printLine("last: %s %s", s.sessionState.LastSubmissionID, s.sessionState.LastVerdict)
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("statePath: %s", s.statePath)
	default:
		s.printLine("usage: show last|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	key := fmt.Sprintf("%s %s", tokens[0], tokens[1])
	cmd, ok := s.commands[key]
	if !ok {
		return fmt.Errorf("unknown command: %s", key)
	}
	params, err := command.ParseArgs(tokens[2:])
	if err != nil {
		return err
	}

	command.ApplyFileShortcuts(cmd, params)
	s.applyLastSubmission(cmd, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	s.rememberSubmission(cmd, resp.Body)
	return nil
}

// applyLastSubmission lets status and report default to the last evaluated submission.
func (s *Session) applyLastSubmission(cmd command.Command, params command.Params) {
	if !strings.Contains(cmd.PathTemplate, ":id") || params.Get("id") != "" {
		return
	}
	if s.sessionState.LastSubmissionID != "" {
		params.Set("id", s.sessionState.LastSubmissionID)
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	missing := command.MissingFields(cmd, params)
	if len(missing) == 0 {
		return nil
	}
	if s.prompt == nil {
		return fmt.Errorf("missing required param: %s", missing[0].Name)
	}
	for _, field := range missing {
		value, err := s.prompt(field.Prompt + ": ")
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		params.Set(field.Name, strings.TrimSpace(value))
	}
	return nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) rememberSubmission(cmd command.Command, body []byte) {
	if cmd.Service != "judge" || cmd.Action != "evaluate" {
		return
	}
	type verdictData struct {
		DisplayName string `json:"display_name"`
	}
	type evaluateData struct {
		SubmissionID string      `json:"submission_id"`
		Verdict      verdictData `json:"verdict"`
	}
	type respEnvelope struct {
		Code int          `json:"code"`
		Data evaluateData `json:"data"`
	}
	var resp respEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return
	}
	if resp.Code != int(pkgerrors.Success) || resp.Data.SubmissionID == "" {
		return
	}
	s.sessionState.LastSubmissionID = resp.Data.SubmissionID
	s.sessionState.LastVerdict = resp.Data.Verdict.DisplayName
	s.sessionState.UpdatedAt = time.Now()
	if s.statePath == "" {
		return
	}
	if err := state.Save(s.statePath, *s.sessionState); err != nil {
		s.printLine("save session state failed: %v", err)
	}
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout | show last|config")
	s.printLine("commands:")
	for _, usage := range command.Usages(s.commands) {
		s.printLine("  %s", usage)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	if s.out == nil {
		return
	}
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
