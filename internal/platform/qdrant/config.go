package qdrant

import (
	"fmt"
	"strings"
)

type Config struct {
	URL             string
	Collection      string
	NamespacePrefix string
	VectorDim       int
}

func ValidateConfig(cfg Config, requireDim bool) error {
	if strings.TrimSpace(cfg.URL) == "" {
		return fmt.Errorf("qdrant: url required")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return fmt.Errorf("qdrant: collection required")
	}
	if requireDim && cfg.VectorDim <= 0 {
		return fmt.Errorf("qdrant: vector dim required")
	}
	return nil
}
