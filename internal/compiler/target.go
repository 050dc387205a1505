package compiler

import (
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/mssola/user_agent"
)

const DefaultTarget = "es2022"

var targets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

var engines = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"safari":  api.EngineSafari,
	"opera":   api.EngineOpera,
}

// IsTarget reports whether s is a supported build target.
func IsTarget(s string) bool {
	_, ok := targets[s]
	return ok
}

func targetOf(s string) api.Target {
	if t, ok := targets[s]; ok {
		return t
	}
	return targets[DefaultTarget]
}

// EngineOf returns the browser engine of a user agent, used to lower the
// output for older browsers.
func EngineOf(ua string) (api.Engine, bool) {
	if ua == "" {
		return api.Engine{}, false
	}
	name, version := user_agent.New(ua).Browser()
	engine, ok := engines[strings.ToLower(name)]
	if !ok || version == "" {
		return api.Engine{}, false
	}
	a := strings.Split(version, ".")
	if len(a) > 3 {
		version = strings.Join(a[:3], ".")
	}
	return api.Engine{Name: engine, Version: version}, true
}

// FormatEngine encodes an engine as `name/version`, e.g. "chrome/100.0.4896".
func FormatEngine(e api.Engine) string {
	for name, engine := range engines {
		if engine == e.Name {
			return name + "/" + e.Version
		}
	}
	return ""
}

// ParseEngine parses an engine encoded by FormatEngine.
func ParseEngine(s string) (api.Engine, bool) {
	name, version, ok := strings.Cut(s, "/")
	if !ok || version == "" {
		return api.Engine{}, false
	}
	engine, ok := engines[name]
	if !ok {
		return api.Engine{}, false
	}
	return api.Engine{Name: engine, Version: version}, true
}
