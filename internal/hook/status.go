package hook

import (
	"context"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/nightbuddy/internal/eventbus"
	"github.com/dokzlo13/nightbuddy/internal/overlay"
)

const statusCallback = "on_status"

// StatusHook calls the script's global on_status(status) for every status
// event. Script errors are logged and never reach the publisher.
type StatusHook struct {
	rt          *Runtime
	unsubscribe func()
}

// AttachStatusHook subscribes rt to status events on bus.
func AttachStatusHook(rt *Runtime, bus *eventbus.Bus) *StatusHook {
	h := &StatusHook{rt: rt}
	h.unsubscribe = bus.Subscribe(eventbus.EventTypeStatus, h.handle)
	return h
}

// Detach stops delivering events to the script.
func (h *StatusHook) Detach() {
	h.unsubscribe()
}

func (h *StatusHook) handle(e eventbus.Event) {
	status, ok := e.Data.(overlay.Status)
	if !ok {
		return
	}
	h.rt.Do(func(_ context.Context, L *lua.LState) {
		callStatus(L, status)
	})
}

func callStatus(L *lua.LState, status overlay.Status) {
	fn, ok := L.GetGlobal(statusCallback).(*lua.LFunction)
	if !ok {
		return
	}

	err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, statusTable(L, status))
	if err != nil {
		log.Error().Err(err).Str("reason", string(status.Reason)).Msg("Lua on_status failed")
	}
}

func statusTable(L *lua.LState, s overlay.Status) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("id", lua.LString(s.ID))
	tbl.RawSetString("shown", lua.LBool(s.Shown))
	tbl.RawSetString("torch_on", lua.LBool(s.TorchOn))
	tbl.RawSetString("torch_available", lua.LBool(s.TorchAvailable))
	tbl.RawSetString("temperature", lua.LNumber(s.Payload.Temperature))
	tbl.RawSetString("opacity", lua.LNumber(s.Payload.Opacity))
	tbl.RawSetString("brightness", lua.LNumber(s.Payload.Brightness))
	tbl.RawSetString("color", lua.LString(s.Color))
	tbl.RawSetString("reason", lua.LString(s.Reason))
	return tbl
}
