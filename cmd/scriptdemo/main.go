// Command scriptdemo is a demonstration harness, not a product CLI: it
// wires one engine from the registry, runs a sample tenant through a
// round-trip execution, and prints the result. Embedding hosts are expected
// to build their own surface against the system/script packages directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	scriptcontext "github.com/zigllms/scriptcore/system/script/context"
	core "github.com/zigllms/scriptcore/system/core"

	_ "github.com/zigllms/scriptcore/system/script/engine/jsengine"
	_ "github.com/zigllms/scriptcore/system/script/engine/luaengine"

	"github.com/zigllms/scriptcore/system/script/marshal"
	"github.com/zigllms/scriptcore/system/script/module"
	"github.com/zigllms/scriptcore/system/script/pool"
	"github.com/zigllms/scriptcore/system/script/snapshot"
	"github.com/zigllms/scriptcore/system/script/tenant"
	"github.com/zigllms/scriptcore/system/script/value"
)

func main() {
	engineName := flag.String("engine", "javascript", "registered engine name (javascript or lua)")
	flag.Parse()

	reg := core.Default()
	fmt.Println("registered engines:", reg.Names())

	cfg := core.DefaultConfig()
	eng, err := reg.CreateEngine(*engineName, cfg)
	if err != nil {
		fatalf("create engine: %v", err)
	}
	if err := eng.Init(context.Background()); err != nil {
		fatalf("init engine: %v", err)
	}
	defer eng.Destroy(context.Background())

	p := pool.NewWithTeardown(*engineName, pool.Config{
		Min:         1,
		Max:         4,
		MaxUses:     1000,
		MaxAge:      time.Hour,
		IdleTimeout: 10 * time.Minute,
	}, func(ctx context.Context) (*pool.ManagedState, error) {
		native, err := eng.CreateContext(ctx)
		if err != nil {
			return nil, err
		}
		return &pool.ManagedState{Native: native, Stage: pool.Configured, CreatedAt: time.Now()}, nil
	}, func(s *pool.ManagedState) {
		eng.DestroyContext(context.Background(), s.Native)
	})

	ms, err := p.Acquire(context.Background())
	if err != nil {
		fatalf("acquire state: %v", err)
	}
	defer p.Release(ms)

	ctx := scriptcontext.New(eng, ms.Native, scriptcontext.ForSandboxLevel(cfg.SandboxLevel), scriptcontext.ResourceLimits{
		MaxMemoryBytes:   cfg.MaxMemoryBytes,
		MaxExecutionTime: time.Duration(cfg.MaxExecutionTimeMS) * time.Millisecond,
	})
	// Wire the Panic Wrapper's recovery strategy so a host fault or a
	// timed-out execution poisons this ManagedState instead of silently
	// returning a wedged interpreter to the pool on Release.
	ctx.SetRecovery(cfg.PanicRecoveryStrategy, ms.Poison)

	mgr := tenant.NewManager(100)
	tn := tenant.New("demo-tenant", tenant.Limits{
		MemoryBytes:         cfg.MaxMemoryBytes,
		CPUInstructionQuota: 1_000_000,
		FunctionCallQuota:   1000,
	}, ctx)
	if err := mgr.Register(tn); err != nil {
		fatalf("register tenant: %v", err)
	}

	bridges := module.NewRegistry("zigllms")
	if err := bridges.Register(demoBridge{}); err != nil {
		fatalf("register bridge: %v", err)
	}
	if err := bridges.Wire(eng, ctx); err != nil {
		fatalf("wire bridges: %v", err)
	}

	agentCfg, err := marshal.AgentConfigToValue(marshal.AgentConfig{
		Name:     "demo-agent",
		Provider: "demo-provider",
		Model:    "demo-model",
	})
	if err != nil {
		fatalf("marshal agent config: %v", err)
	}
	if err := ctx.SetGlobal("agent_config", agentCfg); err != nil {
		fatalf("set global: %v", err)
	}

	if err := tn.CheckModuleAccess("zigllms.demo"); err != nil {
		fatalf("module access denied: %v", err)
	}

	script := sampleScript(*engineName)
	result, err := ctx.ExecuteScript(script)
	if err != nil {
		fatalf("execute script: %v", err)
	}
	fmt.Printf("result: %+v\n", result)

	snap, err := snapshot.Capture("demo-snapshot", map[string]string{"engine": *engineName}, ctx.Globals())
	if err != nil {
		fatalf("capture snapshot: %v", err)
	}
	packed, err := snapshot.Pack(snap)
	if err != nil {
		fatalf("pack snapshot: %v", err)
	}
	fmt.Printf("snapshot: %d bytes, checksum %s\n", len(packed), snap.ChecksumHex)
}

func sampleScript(engine string) string {
	if engine == "lua" {
		return `return agent_config.name`
	}
	return `agent_config.name`
}

// demoBridge is a tiny APIBridge exercising the Module System end to end.
type demoBridge struct{}

func (demoBridge) Name() string { return "demo" }

func (demoBridge) GetModule() (*scriptcontext.ScriptModule, error) {
	return &scriptcontext.ScriptModule{
		Functions: map[string]func(args []value.Value) (value.Value, error){
			"echo": func(args []value.Value) (value.Value, error) {
				if len(args) == 0 {
					return value.Nil(), nil
				}
				return args[0], nil
			},
		},
	}, nil
}

func (demoBridge) Init(eng core.ScriptingEngine, ctx *scriptcontext.Context) error { return nil }
func (demoBridge) Deinit()                                                        {}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
