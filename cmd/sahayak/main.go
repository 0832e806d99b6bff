package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/tanvi/sahayak/internal/agent"
	"github.com/tanvi/sahayak/internal/dispatch"
	"github.com/tanvi/sahayak/internal/gateway"
	"github.com/tanvi/sahayak/internal/governance"
	"github.com/tanvi/sahayak/internal/llm"
	"github.com/tanvi/sahayak/internal/observability"
	"github.com/tanvi/sahayak/internal/plan"
	"github.com/tanvi/sahayak/internal/registry"
	"github.com/tanvi/sahayak/internal/store"
	"github.com/tanvi/sahayak/pkg/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func main() {
	observability.PrintBanner()
	observability.InitializeTerminal()

	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	cfg := config.LoadConfig("config.json")

	entityStore, err := store.NewEntityStore(cfg.Store.Path)
	if err != nil {
		log.Fatal(err)
	}
	defer entityStore.Close()

	// Register entity schemas from the definitions file, binding each one's
	// operation handles to the document store.
	reg := registry.New()
	defs, err := registry.LoadDefinitions(cfg.Store.Entities)
	if err != nil {
		log.Fatal(err)
	}
	for _, def := range defs {
		fields := def.ToFields()
		for i := range fields {
			if fields[i].Name == "email" {
				fields[i].Validate = func(v any) error {
					if !emailRe.MatchString(fmt.Sprintf("%v", v)) {
						return fmt.Errorf("not a valid email address")
					}
					return nil
				}
			}
		}
		reg.Register(def.Name, registry.EntityConfig{
			Table:           def.Table,
			Fields:          fields,
			IdentifierField: def.IdentifierField,
			Operations:      registry.BindEntityStore(entityStore, def.Table, def.IdentifierField),
		})
		log.Printf("Registered entity type %q", def.Name)
	}

	// Initialize LLM (using default enabled provider)
	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		log.Fatal("No enabled provider found in config")
	}

	var model llms.Model
	switch pName {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(pCfg.APIKey),
			openai.WithModel(pCfg.Model),
		}
		if pCfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		log.Fatalf("Provider %s not yet implemented in main", pName)
	}
	if err != nil {
		log.Fatal(err)
	}

	logger := observability.NewLogger()
	collab := llm.NewClient(model, 60*time.Second)
	collab.Logger = logger

	gov := governance.NewDefaultPolicyEngine()
	// Default safety rules: never execute wholesale destruction.
	_ = gov.DenyInstruction(`(?i)delete\s+(all|every|everything)`)
	_ = gov.DenyInstruction(`(?i)drop\s+(all|table|database)`)
	_ = gov.DenyInstruction(`(?i)wipe\s+the\s+(store|database)`)
	gov.DenyEntity("credentials")

	dispatcher := dispatch.NewDispatcher(reg, collab)
	generator := plan.NewGenerator(collab, reg)
	executor := plan.NewExecutor(dispatcher, reg)
	responder := &agent.Responder{
		Collaborator: collab,
		Registry:     reg,
		Prompts:      agent.NewPromptManager(cfg.App.PromptsDir),
		History:      entityStore,
	}

	router := &agent.Router{
		Collaborator: collab,
		Registry:     reg,
		Dispatcher:   dispatcher,
		Generator:    generator,
		Executor:     executor,
		Responder:    responder,
		Policy:       gov,
		Logger:       logger,
		History:      entityStore,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var gateways []gateway.Messenger
	if tgCfg, ok := cfg.GetGateway("telegram"); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, router)
		if err != nil {
			log.Fatal(err)
		}
		gateways = append(gateways, tg)
	}
	if dcCfg, ok := cfg.GetGateway("discord"); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, router)
		if err != nil {
			log.Fatal(err)
		}
		gateways = append(gateways, dc)
	}
	if httpCfg, ok := cfg.GetGateway("http"); ok {
		addr := httpCfg.Addr
		if addr == "" {
			addr = ":8080"
		}
		gateways = append(gateways, gateway.NewHTTPGateway(addr, router, entityStore))
	}
	if len(gateways) == 0 {
		log.Fatal("No gateway is enabled in config")
	}

	// Scheduled instructions flow back out the first gateway.
	scheduler := agent.NewScheduler(router, entityStore, gateways[0])
	go scheduler.Start(ctx)

	// Live resource dashboard (1-second updates)
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.PrintLiveStatus()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
				logger.LogHeartbeat()
			}
		}
	}()

	for _, gw := range gateways {
		gw := gw
		go func() {
			if err := gw.Start(); err != nil {
				log.Printf("\033[91m[ FAIL ] GATEWAY CRITICAL ERROR: %v\033[0m", err)
				stop()
			}
		}()
	}

	<-ctx.Done()

	for _, gw := range gateways {
		_ = gw.Stop()
	}

	observability.CleanupTerminal()

	time.Sleep(500 * time.Millisecond)
	log.Println("\033[95m[ EXIT ] CORE DE-INITIALIZED. GOODBYE.\033[0m")
}
