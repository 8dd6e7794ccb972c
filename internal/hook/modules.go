package hook

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// Controller is what the filter module lets scripts do.
type Controller interface {
	Enable() error
	Disable() error
	Toggle() error
	ToggleTorch() error
}

func logLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "debug", L.NewFunction(logFunc(zerolog.DebugLevel)))
	L.SetField(mod, "info", L.NewFunction(logFunc(zerolog.InfoLevel)))
	L.SetField(mod, "warn", L.NewFunction(logFunc(zerolog.WarnLevel)))
	L.SetField(mod, "error", L.NewFunction(logFunc(zerolog.ErrorLevel)))
	L.Push(mod)
	return 1
}

// logFunc builds log.<level>(msg, [fields]).
func logFunc(level zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)

		event := log.WithLevel(level).Str("source", "lua")
		if tbl, ok := L.Get(2).(*lua.LTable); ok {
			tbl.ForEach(func(k, v lua.LValue) {
				event = event.Interface(lua.LVAsString(k), toGo(v))
			})
		}
		event.Msg(msg)
		return 0
	}
}

type filterModule struct {
	ctl Controller
}

func newFilterModule(ctl Controller) *filterModule {
	return &filterModule{ctl: ctl}
}

// loader exposes filter.enable(), filter.disable(), filter.toggle() and
// filter.toggle_torch(). Each returns true, or false plus an error message.
func (m *filterModule) loader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "enable", L.NewFunction(m.call(m.ctl.Enable)))
	L.SetField(mod, "disable", L.NewFunction(m.call(m.ctl.Disable)))
	L.SetField(mod, "toggle", L.NewFunction(m.call(m.ctl.Toggle)))
	L.SetField(mod, "toggle_torch", L.NewFunction(m.call(m.ctl.ToggleTorch)))
	L.Push(mod)
	return 1
}

func (m *filterModule) call(fn func() error) lua.LGFunction {
	return func(L *lua.LState) int {
		if err := fn(); err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}
}

// toGo converts a Lua value for logging.
func toGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LNilType:
		return nil
	case *lua.LTable:
		obj := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			obj[lua.LVAsString(k)] = toGo(v)
		})
		return obj
	default:
		return v.String()
	}
}
