package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/localhive/localhive/internal/agent"
	"github.com/localhive/localhive/internal/config"
	"github.com/localhive/localhive/internal/guardian"
	"github.com/localhive/localhive/internal/logging"
	"github.com/localhive/localhive/internal/llm/openai"
	"github.com/localhive/localhive/internal/mcp"
	"github.com/localhive/localhive/internal/memory"
	"github.com/localhive/localhive/internal/plan"
	"github.com/localhive/localhive/internal/prompt"
	"github.com/localhive/localhive/internal/session"
	"github.com/localhive/localhive/internal/tool"
	"github.com/localhive/localhive/internal/tool/builtin"
	"github.com/localhive/localhive/internal/web"
	envcfg "github.com/localhive/localhive/pkg/config"
)

// Exit codes: 0 graceful shutdown, 1 unrecoverable startup failure,
// 2 invalid configuration.
const (
	exitStartupFailure = 1
	exitInvalidConfig  = 2
)

func main() {
	envcfg.LoadEnv()

	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        LocalHive v" + web.Version + "             ║")
	fmt.Println("║   local-first agent orchestration    ║")
	fmt.Println("╚══════════════════════════════════════╝")

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Printf("❌ Invalid configuration: %v", err)
		os.Exit(exitInvalidConfig)
	}

	logger := logging.New(cfg.LogLevel)

	// LLM backend — any OpenAI-compatible endpoint, local first.
	llmClient, err := openai.NewClientFromEnv()
	if err != nil {
		log.Printf("❌ Failed to initialize LLM client: %v", err)
		os.Exit(exitStartupFailure)
	}
	fmt.Printf("🤖 LLM: %s\n", llmClient.Name())

	// Prompt table (config/prompts.json with embedded fallback).
	table, err := prompt.Load(cfg.PromptTablePath, logger)
	if err != nil {
		log.Printf("❌ Failed to load prompt table: %v", err)
		os.Exit(exitStartupFailure)
	}

	// Durable memory store.
	memStore, err := memory.NewSQLiteStore(cfg.MemoryDBPath, logger)
	if err != nil {
		log.Printf("❌ Failed to open memory store: %v", err)
		os.Exit(exitStartupFailure)
	}
	defer memStore.Close()
	fmt.Printf("🧠 Memory: %s\n", cfg.MemoryDBPath)

	// Metrics.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	runtimeMetrics := agent.NewRuntimeMetrics(promReg)

	// Core components.
	emitter := agent.NewEmitter(logger, 1000)
	collector := agent.NewResponseCollector(emitter)
	guard := guardian.New(logger)
	guard.AddViolationListener(func(v guardian.Violation) {
		emitter.Emit(agent.Notification{
			Type:    agent.NotifyViolation,
			AgentID: v.SourceAgent,
			Data: map[string]any{
				"violation_id": v.ID,
				"type":         string(v.Type),
				"severity":     string(v.Severity),
				"principle":    v.Principle,
			},
		})
	})

	registry := tool.NewRegistry(logger, cfg.ToolTimeout())
	registry.Register(builtin.NewTimeTool())
	registry.Register(builtin.NewWebReaderTool())
	registry.Register(builtin.NewMemorySearchTool(memStore))

	parser := agent.NewParser(logger)
	assembler := agent.NewAssembler(table, registry, logger)

	sessions := session.NewStore(cfg.SessionTTL())
	defer sessions.Close()

	manager := agent.NewManager(agent.ManagerConfig{
		MaxAgents:         cfg.MaxAgents,
		CycleTimeout:      cfg.CycleTimeout(),
		HistoryCap:        cfg.HistoryCap,
		HeartbeatInterval: cfg.HeartbeatInterval(),
	}, agent.AgentDeps{
		Provider:  llmClient,
		Assembler: assembler,
		Parser:    parser,
		Emitter:   emitter,
		Memory:    memStore,
		Logger:    logger,
	}, guard, runtimeMetrics, sessions, logger)

	// send_message needs the manager as its router, so it registers after
	// the manager exists.
	registry.Register(builtin.NewSendMessageTool(manager))

	projects := plan.NewStore()
	workflow := agent.NewWorkflow(assembler, emitter, logger)
	workflow.SetManager(manager)
	workflow.SetProjectStore(projects)
	interaction := agent.NewInteraction(registry, emitter, logger)
	cycleHandler := agent.NewCycleHandler(workflow, interaction, guard,
		emitter, runtimeMetrics, cfg.CycleTimeout(), logger)
	manager.SetCycleHandler(cycleHandler)

	// Optional MCP servers (only when mcp.json exists).
	if _, statErr := os.Stat(cfg.MCPConfigPath); statErr == nil {
		mcpMgr := mcp.NewManager(cfg.MCPConfigPath, logger)
		n, mcpErrs := mcpMgr.ConnectAll(context.Background())
		for _, e := range mcpErrs {
			log.Printf("⚠️  MCP connect: %v", e)
		}
		if n > 0 {
			if err := mcpMgr.RegisterTools(context.Background(), registry); err != nil {
				log.Printf("⚠️  MCP register tools: %v", err)
			}
			fmt.Printf("🔌 MCP: %d server(s) connected\n", n)
		}
		defer mcpMgr.CloseAll()
	}

	if err := registry.InitAll(context.Background()); err != nil {
		log.Printf("❌ Failed to initialize tools: %v", err)
		os.Exit(exitStartupFailure)
	}
	defer registry.CloseAll()
	fmt.Printf("🛠️  Tools: %d registered\n", len(registry.List()))

	server := web.NewServer(manager, guard, collector, emitter, memStore,
		projects, promReg, cfg.ChatWait(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Run(groupCtx, cfg.WebHost, cfg.WebPort)
	})
	group.Go(func() error {
		err := guard.RunMonitor(groupCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	group.Go(func() error {
		// Memory janitor: enforce retention tiers hourly.
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				if _, err := memStore.CleanupExpired(groupCtx); err != nil {
					logger.Warn("memory cleanup failed", "error", err)
				}
			}
		}
	})

	fmt.Printf("🌐 REST facade at http://%s:%d\n", cfg.WebHost, cfg.WebPort)
	err = group.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	manager.Shutdown(shutdownCtx)

	if err != nil && err != context.Canceled {
		log.Printf("❌ Runtime error: %v", err)
		os.Exit(exitStartupFailure)
	}
	log.Println("✅ Shutdown complete")
}
