package cmd

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"portfolio-oracle/knowledge"
)

var (
	ingestTitle       string
	ingestDescription string
	ingestType        string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Upload a document into the knowledge base",
	Long: `Extracts text from a PDF, Markdown or plain-text file, chunks it and stores
it as an active knowledge document.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestTitle, "title", "t", "", "document title (default: file name)")
	ingestCmd.Flags().StringVarP(&ingestDescription, "description", "d", "", "document description")
	ingestCmd.Flags().StringVar(&ingestType, "type", "other", "document type: resume, project, bio, skills, experience, other")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	ctx := commandContext(cmd)
	a, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.knowledge.Upload(ctx, knowledge.UploadInput{
		Filename:    filepath.Base(path),
		Title:       ingestTitle,
		Description: ingestDescription,
		MimeType:    mime.TypeByExtension(filepath.Ext(path)),
		DocType:     ingestType,
		Data:        data,
	})
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	cmd.Printf("Ingested %q (%s) as %s with %d chunks\n", doc.Title, doc.DocType, doc.ID, doc.ChunkCount)
	return nil
}
