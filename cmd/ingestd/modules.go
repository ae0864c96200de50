package main

// Compiled-in modules. Each registers itself with core in init.
import (
	_ "github.com/flemzord/ingestd/internal/gateway"
	_ "github.com/flemzord/ingestd/internal/mcpserver"
	_ "github.com/flemzord/ingestd/internal/tracing"
	_ "github.com/flemzord/ingestd/modules/embedder/gemini"
	_ "github.com/flemzord/ingestd/modules/embedder/http"
	_ "github.com/flemzord/ingestd/modules/engine/index"
	_ "github.com/flemzord/ingestd/modules/engine/remote"
	_ "github.com/flemzord/ingestd/modules/store/neo4j"
	_ "github.com/flemzord/ingestd/modules/store/sqlite"
)
