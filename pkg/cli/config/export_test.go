package config

var ParseGCSPath = parseGCSPath

// NewRecallForTest creates a Recall config with default values
func NewRecallForTest(keywordFile string) *Recall {
	return &Recall{
		topK:                10,
		candidateMultiplier: 3,
		minCandidates:       30,
		floorImportance:     8,
		floorMargin:         5,
		minContentLength:    3,
		syncConcurrency:     4,
		keywordFile:         keywordFile,
	}
}

// NewRepositoryForTest creates a Repository config for testing purposes
func NewRepositoryForTest(backend, sqlitePath string) *Repository {
	return &Repository{
		backend:    backend,
		sqlitePath: sqlitePath,
	}
}

// NewEmbeddingForTest creates an Embedding config for testing purposes
func NewEmbeddingForTest(provider, summarizer string, dimension int) *Embedding {
	return &Embedding{
		provider:         provider,
		dimension:        dimension,
		cacheSize:        16,
		summarizer:       summarizer,
		summaryThreshold: 280,
	}
}

// NewLoggerForTest creates a Logger config for testing purposes
func NewLoggerForTest(level, format, output string) *Logger {
	return &Logger{
		level:  level,
		format: format,
		output: output,
	}
}
