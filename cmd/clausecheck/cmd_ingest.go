package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clausecheck/internal/types"
)

var (
	ingestTenant   string
	ingestDocument string
	ingestFile     string
	ingestDedupe   bool
)

// chunkInput is one entry of the ingestion JSON file: the output of an
// upstream PDF chunker.
type chunkInput struct {
	ID          string `json:"id"`
	PageStart   int    `json:"page_start"`
	PageEnd     int    `json:"page_end"`
	SectionPath string `json:"section_path,omitempty"`
	Text        string `json:"text"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a chunked contract document",
	Long: `Reads a JSON array of text chunks, embeds them, and stores chunks
plus embeddings under the given tenant and document. Re-ingesting a
document replaces its chunks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack()
		if err != nil {
			return err
		}
		defer s.store.Close()

		data, err := os.ReadFile(ingestFile)
		if err != nil {
			return err
		}
		var inputs []chunkInput
		if err := json.Unmarshal(data, &inputs); err != nil {
			return fmt.Errorf("failed to parse %s: %w", ingestFile, err)
		}
		if len(inputs) == 0 {
			return fmt.Errorf("%s contains no chunks", ingestFile)
		}

		ctx := context.Background()
		chunks := make([]types.Chunk, len(inputs))
		texts := make([]string, len(inputs))
		for i, in := range inputs {
			if in.ID == "" {
				in.ID = fmt.Sprintf("chunk-%04d", i)
			}
			if strings.TrimSpace(in.Text) == "" {
				return fmt.Errorf("chunk %s has no text", in.ID)
			}
			hash := sha256.Sum256([]byte(in.Text))
			chunks[i] = types.Chunk{
				ID:          in.ID,
				TenantID:    ingestTenant,
				DocumentID:  ingestDocument,
				PageStart:   in.PageStart,
				PageEnd:     in.PageEnd,
				SectionPath: in.SectionPath,
				Text:        in.Text,
				ContentHash: hex.EncodeToString(hash[:]),
			}
			texts[i] = in.Text
		}

		logger.Info("embedding chunks",
			zap.Int("chunks", len(chunks)),
			zap.String("engine", s.embedder.Name()))

		batchSize := s.cfg.Embedding.BatchSize
		embeddings := make([][]float32, 0, len(texts))
		for start := 0; start < len(texts); start += batchSize {
			end := start + batchSize
			if end > len(texts) {
				end = len(texts)
			}
			batch, err := s.embedder.EmbedBatch(ctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding failed at chunk %d: %w", start, err)
			}
			embeddings = append(embeddings, batch...)
		}

		if err := s.store.IngestChunks(ctx, chunks, embeddings); err != nil {
			return err
		}
		if err := s.store.SetDocumentStatus(ctx, ingestDocument, "ready"); err != nil {
			return err
		}
		fmt.Printf("ingested %d chunks into %s/%s\n", len(chunks), ingestTenant, ingestDocument)

		if ingestDedupe {
			dup, found, err := s.store.FindDuplicateDocument(ctx, ingestTenant, ingestDocument)
			if err != nil {
				return err
			}
			if found {
				fmt.Printf("warning: content is identical to existing document %s\n", dup)
			}
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTenant, "tenant", "", "tenant id (required)")
	ingestCmd.Flags().StringVar(&ingestDocument, "document", "", "document id (required)")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "chunk JSON file (required)")
	ingestCmd.Flags().BoolVar(&ingestDedupe, "check-duplicate", true, "warn when an identical document already exists")
	_ = ingestCmd.MarkFlagRequired("tenant")
	_ = ingestCmd.MarkFlagRequired("document")
	_ = ingestCmd.MarkFlagRequired("file")
}
