package shell

import (
	"slices"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/domino14/yatzy/category"
)

// ShellCompleter provides context-aware autocomplete for shell commands
type ShellCompleter struct {
	sc *ShellController
}

func NewShellCompleter(sc *ShellController) *ShellCompleter {
	return &ShellCompleter{sc: sc}
}

// CommandMetadata holds autocomplete information for a command
type CommandMetadata struct {
	Options []string
	Args    []string
}

var commandMetadata = map[string]CommandMetadata{
	"learn": {Args: []string{"hands", "distr", "game", "weights", "stop"}},
	"stats": {Args: []string{"mcscore", "distr", "holds", "weights"}, Options: []string{"-rows"}},
	"play":  {Options: []string{"-selector"}},
	"help":  {Args: helpTopics},
}

var commandNames = []string{"help", "set", "learn", "stats", "play", "script", "exit"}

var selectorValues = []string{"weights", "table", "random"}

func categoryNames() []string {
	names := make([]string, 0, category.NumCategories)
	for _, c := range category.All() {
		names = append(names, c.String())
	}
	return names
}

// Do implements the readline.AutoComplete interface
func (c *ShellCompleter) Do(line []rune, pos int) ([][]rune, int) {
	text := string(line[:pos])

	fields, err := shellquote.Split(text)
	if err != nil {
		fields = strings.Fields(text)
	}
	endsWithSpace := len(text) > 0 && text[len(text)-1] == ' '

	var prefix string
	var completions []string

	if len(fields) == 0 || (len(fields) == 1 && !endsWithSpace) {
		if len(fields) == 1 {
			prefix = fields[0]
		}
		completions = commandNames
	} else {
		cmdName := fields[0]
		if !endsWithSpace {
			prefix = fields[len(fields)-1]
		}
		// position of the argument being completed
		argPos := len(fields) - 1
		if endsWithSpace {
			argPos = len(fields)
		}
		lastComplete := fields[argPos-1]

		switch {
		case lastComplete == "-selector":
			completions = selectorValues
		case cmdName == "set" && argPos == 1 && c.sc != nil:
			completions = c.sc.config.AllKeys()
			slices.Sort(completions)
		case (cmdName == "learn" && argPos == 3) ||
			(cmdName == "stats" && argPos == 2 && slices.Contains([]string{"distr", "holds"}, fields[1])):
			completions = categoryNames()
		default:
			if metadata, ok := commandMetadata[cmdName]; ok {
				if strings.HasPrefix(prefix, "-") || argPos > 1 {
					completions = metadata.Options
				} else {
					completions = metadata.Args
				}
			}
		}
	}

	var matches [][]rune
	for _, completion := range completions {
		if strings.HasPrefix(completion, prefix) {
			matches = append(matches, []rune(completion[len(prefix):]))
		}
	}
	return matches, len(prefix)
}
