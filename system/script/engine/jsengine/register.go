package jsengine

import core "github.com/zigllms/scriptcore/system/core"

func init() {
	_ = core.Default().RegisterEngine(core.Info{
		Name:        engineName,
		DisplayName: "JavaScript (goja)",
		Version:     "es5.1+",
		Extensions:  []string{".js", ".mjs"},
		Factory:     New,
		Features: core.Features{
			AsyncSupport: false,
			Debugging:    false,
			Sandboxing:   true,
			HotReload:    true,
			NativeJSON:   true,
			NativeRegex:  true,
		},
		Description: "JavaScript engine backed by the pure-Go goja runtime.",
	})
}
