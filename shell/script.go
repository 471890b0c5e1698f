package shell

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
	luajson "layeh.com/gopher-json"
)

func getShell(L *lua.LState) *ShellController {
	shell := L.GetGlobal("yatzy_shell")
	ud, ok := shell.(*lua.LUserData)
	if !ok {
		panic("luserdata not right type")
	}
	sc, ok := ud.Value.(*ShellController)
	if !ok {
		panic("shellcontroller not right type")
	}
	return sc
}

// scriptCommand exposes a shell command to scripts. The script passes the
// rest of the command line and gets the response text back, or a string
// starting with "ERROR: ". Learning commands run to completion before the
// call returns.
func scriptCommand(name string) lua.LGFunction {
	return func(L *lua.LState) int {
		sc := getShell(L)
		cmd, err := extractFields(name + " " + L.OptString(1, ""))
		if err == nil {
			var r *Response
			r, err = sc.handle(cmd)
			sc.waitTask()
			if err == nil {
				msg := ""
				if r != nil {
					msg = r.message
				}
				L.Push(lua.LString(msg))
				return 1
			}
		}
		log.Err(err).Str("command", name).Msg("error-executing-script-command")
		L.Push(lua.LString("ERROR: " + err.Error()))
		return 1
	}
}

// Settings returns every setting as a table.
func Settings(L *lua.LState) int {
	sc := getShell(L)
	data, err := json.Marshal(sc.config.SanitizedSettings())
	if err == nil {
		var v lua.LValue
		if v, err = luajson.Decode(L, data); err == nil {
			L.Push(v)
			return 1
		}
	}
	log.Err(err).Msg("error-encoding-settings")
	L.Push(lua.LNil)
	return 1
}

func (sc *ShellController) script(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) == 0 {
		return nil, errors.New("need arguments for script")
	}
	filepath := cmd.args[0]

	L := lua.NewState()
	defer L.Close()
	luajson.Preload(L)

	lsc := L.NewUserData()
	lsc.Value = sc

	L.SetGlobal("yatzy_shell", lsc)
	for _, name := range []string{"set", "learn", "stats", "play"} {
		L.SetGlobal("yatzy_"+name, L.NewFunction(scriptCommand(name)))
	}
	L.SetGlobal("yatzy_settings", L.NewFunction(Settings))

	if err := L.DoFile(filepath); err != nil {
		log.Err(err).Msg("there was a error")
		return nil, err
	}
	return nil, nil
}
