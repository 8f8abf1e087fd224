package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"golang.org/x/term"

	"relay/internal/chat"
	"relay/internal/llm"
)

var commandSuggestions = []prompt.Suggest{
	{Text: ":new", Description: "Start a new thread"},
	{Text: ":threads", Description: "List your threads"},
	{Text: ":switch", Description: "Switch to a thread by number"},
	{Text: ":clear", Description: "Discard the in-flight streaming buffer"},
	{Text: ":help", Description: "Show available commands"},
	{Text: ":quit", Description: "Exit"},
}

type promptExit struct{}

// interruptTracker turns a double Ctrl+C within the window into an exit.
type interruptTracker struct {
	window time.Duration
	last   time.Time
}

func newInterruptTracker(window time.Duration) *interruptTracker {
	return &interruptTracker{window: window}
}

func (t *interruptTracker) secondPress() bool {
	now := time.Now()
	second := !t.last.IsZero() && now.Sub(t.last) <= t.window
	t.last = now
	return second
}

// CLI is the interactive terminal front end over the same Runner the web
// surface uses. Approvals are answered inline with a y/N prompt.
type CLI struct {
	runner   *Runner
	owner    string
	threadID string
	render   *glamour.TermRenderer
	stdin    *bufio.Reader
	isTTY    bool
}

func NewCLI(runner *Runner, owner string) *CLI {
	c := &CLI{
		runner: runner,
		owner:  owner,
		stdin:  bufio.NewReader(os.Stdin),
		isTTY:  term.IsTerminal(int(os.Stdin.Fd())),
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(0),
		); err == nil {
			c.render = r
		}
	}
	return c
}

// Run enters the REPL until the user quits or the context ends.
func (c *CLI) Run(ctx context.Context) (err error) {
	fmt.Println("relay ready. Type ':help' for commands; double Ctrl+C exits.")

	if err := c.ensureThread(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	tracker := newInterruptTracker(2 * time.Second)
	history := loadInputHistory(c.runner.cfg.HistoryPath)

	var restore func()
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if state, terr := term.GetState(fd); terr == nil {
			restore = func() { _ = term.Restore(fd, state) }
		}
	}
	if restore != nil {
		defer restore()
	}

	var exitRequested atomic.Bool
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(promptExit); ok {
				err = nil
				return
			}
			panic(r)
		}
	}()

	executor := func(in string) {
		if exitRequested.Load() || ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(in)
		if line == "" {
			return
		}
		history.Add(line)
		if exit := c.handleLine(ctx, line); exit {
			exitRequested.Store(true)
			cancel()
			panic(promptExit{})
		}
	}

	p := prompt.New(
		executor,
		commandCompleter,
		prompt.OptionHistory(history.Entries()),
		prompt.OptionTitle("relay"),
		prompt.OptionLivePrefix(func() (string, bool) {
			return fmt.Sprintf("[%s] > ", shortID(c.threadID)), true
		}),
		prompt.OptionAddKeyBind(
			prompt.KeyBind{
				Key: prompt.ControlC,
				Fn: func(buf *prompt.Buffer) {
					if c.cancelInFlight() {
						fmt.Println("\n(Current request cancelled.)")
						return
					}
					if tracker.secondPress() {
						fmt.Println("\nReceived second Ctrl+C, exiting.")
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
					fmt.Println("\n(Press Ctrl+C again within 2s to exit)")
				},
			},
			prompt.KeyBind{
				Key: prompt.ControlD,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() == "" {
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
				},
			},
		),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			if exitRequested.Load() {
				return true
			}
			select {
			case <-ctx.Done():
				return true
			default:
				return false
			}
		}),
	)

	p.Run()
	return nil
}

func commandCompleter(doc prompt.Document) []prompt.Suggest {
	prefix := strings.TrimLeft(doc.TextBeforeCursor(), " \t")
	if !strings.HasPrefix(prefix, ":") {
		return nil
	}
	return prompt.FilterHasPrefix(commandSuggestions, doc.GetWordBeforeCursor(), true)
}

func (c *CLI) cancelInFlight() bool {
	if session := c.runner.sessions.Get(c.threadID); session != nil {
		return session.CancelTurn()
	}
	return false
}

func (c *CLI) ensureThread(ctx context.Context) error {
	threads, err := c.runner.store.ListThreads(ctx, c.owner)
	if err != nil {
		return err
	}
	if len(threads) > 0 {
		c.threadID = threads[0].ID
		fmt.Printf("(resuming thread %s %q)\n", shortID(c.threadID), threads[0].Title)
		return nil
	}
	return c.newThread(ctx)
}

func (c *CLI) newThread(ctx context.Context) error {
	thread, err := c.runner.store.CreateThread(ctx, uuid.NewString(), c.owner, "")
	if err != nil {
		return err
	}
	c.threadID = thread.ID
	fmt.Printf("(started thread %s)\n", shortID(c.threadID))
	return nil
}

// handleLine dispatches one REPL line. Returns true to exit.
func (c *CLI) handleLine(ctx context.Context, line string) bool {
	switch {
	case line == ":quit" || line == ":exit":
		return true
	case line == ":help":
		for _, s := range commandSuggestions {
			fmt.Printf("  %-10s %s\n", s.Text, s.Description)
		}
		return false
	case line == ":new":
		if err := c.newThread(ctx); err != nil {
			fmt.Printf("error: %v\n", err)
		}
		return false
	case line == ":threads":
		c.listThreads(ctx)
		return false
	case strings.HasPrefix(line, ":switch"):
		c.switchThread(ctx, strings.TrimSpace(strings.TrimPrefix(line, ":switch")))
		return false
	case line == ":clear":
		c.runner.sessions.Reset(c.threadID)
		fmt.Println("(streaming buffer cleared)")
		return false
	case strings.HasPrefix(line, ":"):
		fmt.Printf("unknown command %s (try :help)\n", line)
		return false
	}

	c.respond(ctx, line)
	return false
}

func (c *CLI) listThreads(ctx context.Context) {
	threads, err := c.runner.store.ListThreads(ctx, c.owner)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	for i, t := range threads {
		marker := " "
		if t.ID == c.threadID {
			marker = "*"
		}
		title := t.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s %2d. %s %s\n", marker, i+1, shortID(t.ID), title)
	}
}

func (c *CLI) switchThread(ctx context.Context, arg string) {
	threads, err := c.runner.store.ListThreads(ctx, c.owner)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	var idx int
	if _, err := fmt.Sscanf(arg, "%d", &idx); err != nil || idx < 1 || idx > len(threads) {
		fmt.Println("usage: :switch <number> (see :threads)")
		return
	}
	// Switching threads resets the old buffer; in-flight state never
	// leaks across threads.
	c.runner.sessions.Destroy(c.threadID)
	c.threadID = threads[idx-1].ID
	fmt.Printf("(switched to thread %s)\n", shortID(c.threadID))
}

// respond runs one request, printing deltas as they stream and answering
// approval requests inline.
func (c *CLI) respond(ctx context.Context, content string) {
	final, err := c.runner.RunRequest(ctx, c.threadID, content, c.emit)
	if err != nil {
		if ctx.Err() != nil || err == context.Canceled {
			fmt.Println("\n(request cancelled)")
			return
		}
		fmt.Printf("\nerror: %v\n", err)
		return
	}
	fmt.Println()
	if c.render != nil && final != "" {
		if rendered, rerr := c.render.Render(final); rerr == nil {
			fmt.Print(rendered)
		}
	}
}

func (c *CLI) emit(eventType string, data any) error {
	switch eventType {
	case string(llm.ChunkTextDelta):
		if chunk, ok := data.(llm.Chunk); ok {
			fmt.Print(chunk.Text)
		}
	case string(llm.ChunkToolCallComplete):
		if chunk, ok := data.(llm.Chunk); ok {
			fmt.Printf("\n[tool call: %s]\n", chunk.ToolName)
		}
	case string(llm.ChunkToolResult):
		if chunk, ok := data.(llm.Chunk); ok {
			status := "ok"
			if chunk.IsError {
				status = "failed"
			}
			fmt.Printf("[tool %s: %s]\n", chunk.ToolName, status)
		}
	case "approval-requested":
		c.promptApproval(data)
	case "request-retry":
		fmt.Println("\n(provider hiccup, retrying...)")
	}
	return nil
}

// promptApproval asks y/N on the terminal and feeds the decision to the
// broker, unblocking the waiting executor.
func (c *CLI) promptApproval(data any) {
	payload, ok := data.(map[string]any)
	if !ok {
		return
	}
	id, _ := payload["id"].(string)
	name, _ := payload["name"].(string)
	args, _ := json.Marshal(payload["args"])

	fmt.Printf("\nTool %s wants to run with args %s\n", name, args)

	approved := false
	if c.isTTY {
		fmt.Print("Allow? [y/N] ")
		line, err := c.stdin.ReadString('\n')
		if err == nil {
			answer := strings.ToLower(strings.TrimSpace(line))
			approved = answer == "y" || answer == "yes"
		}
	} else {
		fmt.Println("(no terminal; denying)")
	}

	decision := chat.Decision{Approved: approved}
	if !approved {
		decision.Reason = "denied at terminal"
	}
	if err := c.runner.broker.Resolve(id, decision); err != nil {
		fmt.Printf("(approval not recorded: %v)\n", err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
