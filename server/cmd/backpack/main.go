package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"backpack-tutor/server/internal/api"
	"backpack-tutor/server/internal/catalog"
	"backpack-tutor/server/internal/config"
	"backpack-tutor/server/internal/llm"
	"backpack-tutor/server/internal/retriever"
	"backpack-tutor/server/internal/session"
	"backpack-tutor/server/internal/timeline"
	"backpack-tutor/server/internal/tutor"
)

func main() {
	// 参数用 flag，敏感信息（LLM API Key）用环境变量：
	// - LLM_API_KEY / ANTHROPIC_API_KEY：按 provider 覆盖配置里的 api_key
	addr := flag.String("addr", ":8080", "http listen address")
	configPath := flag.String("config", "server/configs/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cat, err := catalog.Load(cfg.Paths.Modules)
	if err != nil {
		log.Fatalf("load modules: %v", err)
	}
	log.Printf("📚 Loaded %d modules from %s", len(cat.List()), cfg.Paths.Modules)

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		log.Fatalf("init llm client: %v", err)
	}

	var store session.Store
	var tlStore timeline.Store
	switch cfg.Session.Backend {
	case "badger":
		badgerStore, err := session.OpenBadgerStore(cfg.Session.BadgerPath, false)
		if err != nil {
			log.Fatalf("open badger store: %v", err)
		}
		defer badgerStore.Close()
		store = badgerStore
		// timeline 与会话共用同一个 badger 实例，重启后事件流回放完整。
		tlStore = timeline.NewBadgerStore(badgerStore.DB())
		log.Printf("💾 Session backend: badger (%s)", cfg.Session.BadgerPath)
	default:
		store = session.NewInMemoryStore()
		tlStore = timeline.NewInMemoryStore()
		log.Printf("💾 Session backend: memory (sessions are lost on restart)")
	}

	engine := tutor.New(cfg, store, tlStore, cat, llmClient, retriever.NewKeywordRetriever(cat), time.Now)
	server := api.NewServer(cfg, cat, engine)

	log.Printf("🚀 backpack tutor server listening on %s", *addr)
	if err := http.ListenAndServe(*addr, server.Routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
