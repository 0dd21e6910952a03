package config

import (
	"fmt"
	"time"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"
)

var luaMapper = gluamapper.NewMapper(gluamapper.Option{
	NameFunc:    gluamapper.Id,
	TagName:     "lua",
	ErrorUnused: true,
})

// LoadFile runs the Lua script at path and overlays the table it returns on
// cfg. Keys absent from the table keep their current value.
//
//	return {
//	  bind = ":3000",
//	  strategy = "bcrypt",
//	  session_ttl = "12h",
//	  google = { client_id = "...", client_secret = "..." },
//	}
func LoadFile(cfg *Config, path string) error {
	L := newSandbox()
	defer L.Close()
	if err := L.DoFile(path); err != nil {
		return fmt.Errorf("unable to run config file %v, cause %w", path, err)
	}
	tbl, ok := L.Get(-1).(*lua.LTable)
	if !ok {
		return fmt.Errorf("config file %v must return a table, got %v", path, L.Get(-1).Type())
	}
	return applyTable(cfg, tbl)
}

func applyTable(cfg *Config, tbl *lua.LTable) error {
	// durations are strings in lua ("12h") and
	// the mapper cannot convert those
	if v := tbl.RawGetString("session_ttl"); v != lua.LNil {
		str, ok := v.(lua.LString)
		if !ok {
			return InvalidConfig{Field: "session_ttl", Reason: "must be a duration string, like \"12h\""}
		}
		d, err := time.ParseDuration(string(str))
		if err != nil {
			return InvalidConfig{Field: "session_ttl", Reason: err.Error()}
		}
		cfg.SessionTTL = d
		tbl.RawSetString("session_ttl", lua.LNil)
	}
	if err := luaMapper.Map(tbl, cfg); err != nil {
		return fmt.Errorf("unable to decode config table, cause %w", err)
	}
	return nil
}

// newSandbox returns a state with only the base, table and string libs.
// Scripts cannot touch the filesystem or load other files.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, pair := range []struct {
		n string
		f lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(pair.f),
			NRet:    0,
			Protect: true,
		}, lua.LString(pair.n)); err != nil {
			panic(err)
		}
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}
