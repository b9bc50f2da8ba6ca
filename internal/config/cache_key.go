package config

import (
	"fmt"

	"github.com/google/uuid"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// TestDefinitionKey returns the cache key for a test's definition, including the answer key
func (r *CacheKeyStruct) TestDefinitionKey(testID uuid.UUID) string {
	return fmt.Sprintf("test:%s:definition", testID)
}

// AutosaveInFlightKey returns the key guarding a single outstanding autosave per attempt
func (r *CacheKeyStruct) AutosaveInFlightKey(attemptID uuid.UUID) string {
	return fmt.Sprintf("attempt:%s:autosave_inflight", attemptID)
}

var CacheKey = NewCacheKeyStruct()
