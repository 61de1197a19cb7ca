package vector

import "github.com/coccobas/agent-memory/internal/apperr"

var errUnavailable = apperr.New(apperr.CodeEmbeddingUnavail, "embedding provider is not available")
