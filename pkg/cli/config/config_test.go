package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/loremind/pkg/cli/config"
	"github.com/secmon-lab/loremind/pkg/domain/types"
	"github.com/secmon-lab/loremind/pkg/utils/logging"
)

func TestParseContextEntries(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantLen int
		wantErr error
	}{
		{
			name: "valid entries",
			content: `
[[entry]]
id = "npc-garrick"
kind = "npc"
title = "Garrick"
content = "A grumpy blacksmith in Ironhold"
tags = ["npc", "ironhold"]

[[entry]]
id = "loc-ironhold"
kind = "location"
title = "Ironhold"
content = "Mountain fortress of the dwarves"
`,
			wantLen: 2,
		},
		{
			name:    "empty document",
			content: "",
			wantLen: 0,
		},
		{
			name: "missing id",
			content: `
[[entry]]
title = "Nameless"
`,
			wantErr: config.ErrInvalidContextFile,
		},
		{
			name: "duplicate id",
			content: `
[[entry]]
id = "a"
title = "First"

[[entry]]
id = "a"
title = "Second"
`,
			wantErr: config.ErrInvalidContextFile,
		},
		{
			name:    "broken TOML",
			content: `[[entry`,
			wantErr: config.ErrInvalidContextFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := config.ParseContextEntries([]byte(tt.content), 42)
			if tt.wantErr != nil {
				gt.Error(t, err).Is(tt.wantErr)
				return
			}
			gt.NoError(t, err).Required()
			gt.Array(t, entries).Length(tt.wantLen)
			for _, e := range entries {
				gt.Number(t, e.CampaignID).Equal(int64(42))
			}
		})
	}

	t.Run("fields are mapped", func(t *testing.T) {
		entries, err := config.ParseContextEntries([]byte(`
[[entry]]
id = " npc-1 "
kind = "npc"
title = "Mira"
content = "A travelling bard"
tags = ["bard"]
`), 1)
		gt.NoError(t, err).Required()
		gt.Array(t, entries).Length(1)
		gt.Value(t, string(entries[0].ID)).Equal("npc-1")
		gt.Value(t, entries[0].MemoryText()).Equal("Mira: A travelling bard")
		gt.Array(t, entries[0].Tags).Equal([]string{"bard"})
	})
}

func TestContextSource_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.toml")
	gt.NoError(t, os.WriteFile(path, []byte(`
[[entry]]
id = "lore-1"
title = "The First Age"
content = "When the gods walked the earth"
`), 0600)).Required()

	var src config.ContextSource
	cmd := newTestCommand(src.Flags())
	gt.NoError(t, cmd.Run(t.Context(), []string{"test", "--context-file", path})).Required()

	entries, err := src.Load(t.Context(), 3)
	gt.NoError(t, err).Required()
	gt.Array(t, entries).Length(1)
	gt.Number(t, entries[0].CampaignID).Equal(int64(3))
}

func TestParseGCSPath(t *testing.T) {
	tests := []struct {
		path   string
		bucket string
		object string
		ok     bool
	}{
		{"gs://campaigns/lore/context.toml", "campaigns", "lore/context.toml", true},
		{"gs://campaigns", "", "", false},
		{"gs:///context.toml", "", "", false},
		{"./context.toml", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			bucket, object, ok := config.ParseGCSPath(tt.path)
			gt.Value(t, ok).Equal(tt.ok)
			gt.Value(t, bucket).Equal(tt.bucket)
			gt.Value(t, object).Equal(tt.object)
		})
	}
}

func TestRecall_Options(t *testing.T) {
	t.Run("default policy", func(t *testing.T) {
		cfg := config.NewRecallForTest("")
		policy, err := cfg.Policy()
		gt.NoError(t, err).Required()
		gt.Number(t, policy.DefaultTopK).Equal(10)
		gt.Value(t, policy.FloorImportance).Equal(types.Importance(8))

		opts, err := cfg.Options()
		gt.NoError(t, err).Required()
		gt.Array(t, opts).Length(5)
	})

	t.Run("keyword file replaces keywords", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "keywords.toml")
		gt.NoError(t, os.WriteFile(path, []byte(`
[keywords]
lore = ["first age", "elder days"]
`), 0600)).Required()

		c, err := config.NewRecallForTest(path).Classifier()
		gt.NoError(t, err).Required()
		gt.Value(t, c.Classify("Tales of the elder days", types.MemoryTypeNarration)).Equal(types.MemoryTypeLore)
	})

	t.Run("unknown type in keyword file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "keywords.toml")
		gt.NoError(t, os.WriteFile(path, []byte(`
[keywords]
weather = ["rain"]
`), 0600)).Required()

		_, err := config.NewRecallForTest(path).Classifier()
		gt.Error(t, err)
	})

	t.Run("missing keyword file", func(t *testing.T) {
		_, err := config.NewRecallForTest(filepath.Join(t.TempDir(), "none.toml")).Options()
		gt.Error(t, err)
	})
}

func TestRepository_Configure(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		repo, err := config.NewRepositoryForTest("memory", "").Configure(t.Context())
		gt.NoError(t, err).Required()
		gt.NoError(t, repo.Close())
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "loremind.db")
		repo, err := config.NewRepositoryForTest("sqlite", path).Configure(t.Context())
		gt.NoError(t, err).Required()
		gt.NoError(t, repo.Close())
	})

	t.Run("firestore requires project", func(t *testing.T) {
		_, err := config.NewRepositoryForTest("firestore", "").Configure(t.Context())
		gt.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := config.NewRepositoryForTest("redis", "").Configure(t.Context())
		gt.Error(t, err)
	})
}

func TestEmbedding_Configure(t *testing.T) {
	t.Run("hash provider with truncating summarizer", func(t *testing.T) {
		emb, sum, err := config.NewEmbeddingForTest("hash", "truncate", 64).Configure(t.Context())
		gt.NoError(t, err).Required()
		gt.Number(t, emb.Dimension()).Equal(64)

		vec, err := emb.Embed(t.Context(), "the dragon sleeps")
		gt.NoError(t, err).Required()
		gt.Array(t, vec).Length(64)
		gt.Value(t, sum.Summarize(t.Context(), "short")).Equal("")
	})

	t.Run("gemini requires project", func(t *testing.T) {
		_, _, err := config.NewEmbeddingForTest("gemini", "truncate", 768).Configure(t.Context())
		gt.Error(t, err)
	})

	t.Run("openai requires key", func(t *testing.T) {
		_, _, err := config.NewEmbeddingForTest("openai", "truncate", 768).Configure(t.Context())
		gt.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, _, err := config.NewEmbeddingForTest("word2vec", "truncate", 768).Configure(t.Context())
		gt.Error(t, err)

		_, _, err = config.NewEmbeddingForTest("hash", "poetry", 768).Configure(t.Context())
		gt.Error(t, err)
	})
}

func TestLogger_Configure(t *testing.T) {
	original := logging.Default()
	t.Cleanup(func() { logging.SetDefault(original) })

	t.Run("json to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "loremind.log")
		closer, err := config.NewLoggerForTest("debug", "json", path).Configure()
		gt.NoError(t, err).Required()

		logging.Default().Debug("hello", "campaign_id", 7)
		closer()

		data, err := os.ReadFile(path)
		gt.NoError(t, err).Required()
		gt.String(t, string(data)).Contains(`"msg":"hello"`)
		gt.String(t, string(data)).Contains(`"campaign_id":7`)
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := config.NewLoggerForTest("verbose", "console", "stdout").Configure()
		gt.Error(t, err)
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := config.NewLoggerForTest("info", "xml", "stdout").Configure()
		gt.Error(t, err)
	})
}
