package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog/log"

	"github.com/domino14/yatzy/config"
)

var (
	errNoData            = errors.New("no data in this line")
	errWrongOptionSyntax = errors.New("wrong format; all options need arguments")
	errBusy              = errors.New("a learning task is running; `learn stop` first")
)

type shellcmd struct {
	cmd     string
	args    []string
	options CmdOptions
}

// extractFields splits a command line into the command, its positional
// arguments and its -options. Every option takes exactly one value.
func extractFields(line string) (*shellcmd, error) {
	fields, err := shellquote.Split(line)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errNoData
	}
	cmd := &shellcmd{cmd: fields[0], options: CmdOptions{}}
	for i := 1; i < len(fields); i++ {
		f := fields[i]
		if strings.HasPrefix(f, "-") && len(f) > 1 {
			if i == len(fields)-1 {
				return nil, errWrongOptionSyntax
			}
			key := f[1:]
			cmd.options[key] = append(cmd.options[key], fields[i+1])
			i++
			continue
		}
		cmd.args = append(cmd.args, f)
	}
	return cmd, nil
}

type ShellController struct {
	l        *readline.Instance
	out      io.Writer
	config   *config.Config
	execPath string

	// the learning task in flight, if any
	mu         sync.Mutex
	taskName   string
	taskCancel context.CancelFunc
	taskDone   chan struct{}
}

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func writeln(msg string, w io.Writer) {
	io.WriteString(w, msg)
	io.WriteString(w, "\n")
}

func NewShellController(cfg *config.Config, execPath string) *ShellController {
	sc := &ShellController{config: cfg, execPath: execPath}
	l, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[32myatzy>\033[0m ",
		HistoryFile:     "/tmp/yatzy_readline.tmp",
		EOFPrompt:       "exit",
		InterruptPrompt: "^C",
		AutoComplete:    NewShellCompleter(sc),

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		panic(err)
	}
	sc.l = l
	sc.out = l.Stderr()
	return sc
}

func (sc *ShellController) showMessage(msg string) {
	writeln(msg, sc.out)
}

func (sc *ShellController) showError(err error) {
	sc.showMessage("Error: " + err.Error())
}

// startTask runs fn in the background. Only one task runs at a time.
func (sc *ShellController) startTask(name string, fn func(ctx context.Context) error) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.taskDone != nil {
		return errBusy
	}
	ctx, cancel := context.WithCancel(log.Logger.WithContext(context.Background()))
	done := make(chan struct{})
	sc.taskName, sc.taskCancel, sc.taskDone = name, cancel, done
	go func() {
		defer close(done)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Err(err).Str("task", name).Msg("task-failed")
		} else {
			log.Info().Str("task", name).Msg("task-done")
		}
		sc.mu.Lock()
		sc.taskName, sc.taskCancel, sc.taskDone = "", nil, nil
		sc.mu.Unlock()
	}()
	return nil
}

// stopTask cancels the running task and waits for it to save its state.
func (sc *ShellController) stopTask() (string, bool) {
	sc.mu.Lock()
	name, cancel, done := sc.taskName, sc.taskCancel, sc.taskDone
	sc.mu.Unlock()
	if done == nil {
		return "", false
	}
	cancel()
	<-done
	return name, true
}

// waitTask blocks until the running task, if any, finishes by itself.
func (sc *ShellController) waitTask() {
	sc.mu.Lock()
	done := sc.taskDone
	sc.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (sc *ShellController) handle(cmd *shellcmd) (*Response, error) {
	switch cmd.cmd {
	case "help":
		return sc.help(cmd)
	case "set":
		return sc.set(cmd)
	case "learn":
		return sc.learn(cmd)
	case "stats":
		return sc.stats(cmd)
	case "play":
		return sc.play(cmd)
	case "script":
		return sc.script(cmd)
	default:
		return nil, fmt.Errorf("command %v not found", strconv.Quote(cmd.cmd))
	}
}

// Execute runs a single command line to completion, including any task it
// starts.
func (sc *ShellController) Execute(sig chan os.Signal, line string) {
	if sc.dispatch(line, sig) {
		return
	}
	sc.waitTask()
}

// dispatch handles one line and reports whether the shell should quit.
func (sc *ShellController) dispatch(line string, sig chan os.Signal) bool {
	cmd, err := extractFields(line)
	if err != nil {
		if err != errNoData {
			sc.showError(err)
		}
		return false
	}
	if cmd.cmd == "exit" || cmd.cmd == "bye" {
		sig <- syscall.SIGINT
		return true
	}
	resp, err := sc.handle(cmd)
	if err != nil {
		sc.showError(err)
	} else if resp != nil && resp.message != "" {
		sc.showMessage(resp.message)
	}
	return false
}

func (sc *ShellController) Loop(sig chan os.Signal) {
	defer sc.l.Close()

	for {
		line, err := sc.l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				sig <- syscall.SIGINT
				break
			} else {
				continue
			}
		} else if err == io.EOF {
			sig <- syscall.SIGINT
			break
		}
		if sc.dispatch(strings.TrimSpace(line), sig) {
			break
		}
	}
	log.Debug().Msgf("Exiting readline loop...")
}

// Cleanup stops any running task; its tables are saved before it returns.
func (sc *ShellController) Cleanup() {
	if name, ok := sc.stopTask(); ok {
		log.Info().Str("task", name).Msg("stopped-running-task")
	}
}
