package luaengine

import core "github.com/zigllms/scriptcore/system/core"

func init() {
	_ = core.Default().RegisterEngine(core.Info{
		Name:        engineName,
		DisplayName: "Lua (gopher-lua)",
		Version:     "5.1",
		Extensions:  []string{".lua"},
		Factory:     New,
		Features: core.Features{
			AsyncSupport: false,
			Debugging:    false,
			Sandboxing:   true,
			HotReload:    true,
			NativeJSON:   false,
			NativeRegex:  false,
		},
		Description: "Lua 5.1 engine backed by gopher-lua.",
	})
}
