package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

// ErrInvalidContextFile is returned for context files that cannot be used
var ErrInvalidContextFile = goerr.New("invalid context file")

// ContextSource holds CLI flags for the campaign context file
type ContextSource struct {
	path string
}

// Flags returns CLI flags for the context source
func (x *ContextSource) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "context-file",
			Aliases:     []string{"f"},
			Usage:       "Campaign context TOML file, local path or gs://bucket/object",
			Sources:     cli.EnvVars("LOREMIND_CONTEXT_FILE"),
			Destination: &x.path,
		},
	}
}

// LogValue implements slog.LogValuer
func (x ContextSource) LogValue() slog.Value {
	return slog.GroupValue(slog.String("path", x.path))
}

type contextFile struct {
	Entries []contextFileEntry `toml:"entry"`
}

type contextFileEntry struct {
	ID      string   `toml:"id"`
	Kind    string   `toml:"kind"`
	Title   string   `toml:"title"`
	Content string   `toml:"content"`
	Tags    []string `toml:"tags"`
}

// IsConfigured reports whether a context file is set
func (x *ContextSource) IsConfigured() bool {
	return x.path != ""
}

// Load reads the context file and returns its entries for campaignID
func (x *ContextSource) Load(ctx context.Context, campaignID int64) ([]*model.ContextEntry, error) {
	if !x.IsConfigured() {
		return nil, goerr.New("context-file is not configured")
	}
	data, err := x.read(ctx)
	if err != nil {
		return nil, err
	}
	return ParseContextEntries(data, campaignID)
}

func (x *ContextSource) read(ctx context.Context) ([]byte, error) {
	if bucket, object, ok := parseGCSPath(x.path); ok {
		return readGCS(ctx, bucket, object)
	}

	// #nosec G304 - path is provided by the operator
	data, err := os.ReadFile(x.path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read context file", goerr.V("path", x.path))
	}
	return data, nil
}

func parseGCSPath(path string) (bucket, object string, ok bool) {
	rest, found := strings.CutPrefix(path, "gs://")
	if !found {
		return "", "", false
	}
	bucket, object, found = strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}

func readGCS(ctx context.Context, bucket, object string) ([]byte, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}
	defer safe.Close(ctx, client, "storage client")

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open context object",
			goerr.V("bucket", bucket),
			goerr.V("object", object))
	}
	defer safe.Close(ctx, r, "context file reader")

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read context object",
			goerr.V("bucket", bucket),
			goerr.V("object", object))
	}
	return data, nil
}

// ParseContextEntries decodes a context TOML document. Every entry needs a
// unique id.
func ParseContextEntries(data []byte, campaignID int64) ([]*model.ContextEntry, error) {
	var file contextFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, goerr.Wrap(ErrInvalidContextFile, "failed to parse TOML", goerr.V("error", err.Error()))
	}

	seen := make(map[string]struct{}, len(file.Entries))
	entries := make([]*model.ContextEntry, 0, len(file.Entries))
	for i, e := range file.Entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, goerr.Wrap(ErrInvalidContextFile, "entry id is required", goerr.V("index", i))
		}
		if _, dup := seen[id]; dup {
			return nil, goerr.Wrap(ErrInvalidContextFile, "duplicate entry id", goerr.V("id", id))
		}
		seen[id] = struct{}{}

		entries = append(entries, &model.ContextEntry{
			ID:         model.ContextEntryID(id),
			CampaignID: campaignID,
			Kind:       e.Kind,
			Title:      e.Title,
			Content:    e.Content,
			Tags:       e.Tags,
		})
	}
	return entries, nil
}
