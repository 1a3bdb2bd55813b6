package memory

import (
	"github.com/secmon-lab/loremind/pkg/domain/interfaces"
)

// Repository is an alias for Memory to match the pattern
type Repository = Memory

// Memory is an in-process repository for development and tests
type Memory struct {
	memory       *memoryRepository
	contextEntry *contextEntryRepository
}

var _ interfaces.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		memory:       newMemoryRepository(),
		contextEntry: newContextEntryRepository(),
	}
}

func (m *Memory) Memory() interfaces.MemoryRepository {
	return m.memory
}

func (m *Memory) ContextEntry() interfaces.ContextEntryRepository {
	return m.contextEntry
}

func (m *Memory) Close() error {
	return nil
}
