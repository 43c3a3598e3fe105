package preflight

import (
	"context"
	"fmt"
	"time"
)

// CheckEmbedder embeds a short sample text. Passage search and ingest both
// need the embedder, so a failure is critical.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: true,
	}
	if c.embedder == nil {
		result.Status = StatusWarn
		result.Message = "no embedder configured"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, c.embedTimeout)
	defer cancel()

	start := time.Now()
	vec, err := c.embedder.Embed(ctx, "kbindex preflight")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s unreachable: %v", c.embedder.ModelName(), err)
		result.Details = "Check embeddings.host or use embeddings.provider: static"
		return result
	}
	if len(vec) != c.embedder.Dimensions() {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s returned %d dimensions, expected %d", c.embedder.ModelName(), len(vec), c.embedder.Dimensions())
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s ready (%d dims, %s)", c.embedder.ModelName(), len(vec), time.Since(start).Round(time.Millisecond))
	return result
}
