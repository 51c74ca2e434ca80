package models

import "time"

// Optimizations summarizes the cost optimizations applied to a request.
type Optimizations struct {
	SelectedModel  string  `json:"selected_model"`
	TemplateUsed   string  `json:"template_used,omitempty"`
	TokensSaved    int     `json:"tokens_saved"`
	CostSaved      float64 `json:"cost_saved"`
	CacheHit       bool    `json:"cache_hit"`
	BatchProcessed bool    `json:"batch_processed"`
}

// Performance reports timing and quality of a completed request.
type Performance struct {
	ResponseTime time.Duration `json:"response_time"`
	QualityScore float64       `json:"quality_score"`
}

// OptimizationResult is the bundle returned to a caller for one request.
type OptimizationResult struct {
	Success     bool   `json:"success"`
	OperationID string `json:"operation_id"`
	Content     string `json:"content,omitempty"`

	Usage Usage   `json:"usage"`
	Cost  float64 `json:"cost"`

	Optimizations   Optimizations `json:"optimizations"`
	Performance     Performance   `json:"performance"`
	Recommendations []string      `json:"recommendations,omitempty"`

	Error string `json:"error,omitempty"`
}
