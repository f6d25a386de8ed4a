package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-scan/internal/catalog"
	"github.com/kozaktomas/face-scan/internal/config"
	"github.com/kozaktomas/face-scan/internal/database"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Inspect persisted face templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted templates",
	Long: `List the templates persisted in PostgreSQL.

Without --set, every set is listed with its template counts. With --set, the
templates of that set are listed by item index.

Examples:
  face-scan templates list
  face-scan templates list --set holiday
  face-scan templates list --set holiday --json`,
	RunE: runTemplatesList,
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.AddCommand(templatesListCmd)

	templatesListCmd.Flags().String("set", "", "Set name (empty = list sets)")
	templatesListCmd.Flags().Bool("json", false, "Output as JSON")
}

// TemplateRow is one listed template
type TemplateRow struct {
	Index     int    `json:"index"`
	NoFace    bool   `json:"no_face"`
	Dims      int    `json:"dims"`
	UpdatedAt string `json:"updated_at"`
}

// SetRow is one listed set
type SetRow struct {
	Name      string `json:"name"`
	Templates int    `json:"templates"`
	NoFace    int    `json:"no_face"`
}

func templateRows(templates []database.StoredTemplate) []TemplateRow {
	rows := make([]TemplateRow, 0, len(templates))
	for _, t := range templates {
		rows = append(rows, TemplateRow{
			Index:     t.Index,
			NoFace:    t.NoFace,
			Dims:      len(t.Feature.Flatten()),
			UpdatedAt: t.UpdatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

func setRows(sets []database.SetSummary) []SetRow {
	rows := make([]SetRow, 0, len(sets))
	for _, s := range sets {
		rows = append(rows, SetRow{Name: s.Name, Templates: s.Templates, NoFace: s.NoFace})
	}
	return rows
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	jsonOutput := mustGetBool(cmd, "json")
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	_, closeStore, err := openTemplateStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reader, err := database.GetTemplateReader(ctx)
	if err != nil {
		return err
	}

	name := mustGetString(cmd, "set")
	if name == "" {
		sets, err := reader.ListSets(ctx)
		if err != nil {
			return fmt.Errorf("listing sets: %w", err)
		}
		return printSetRows(setRows(sets), jsonOutput)
	}

	key := catalog.NormalizeName(name)
	if key == "" {
		return fmt.Errorf("%w: %q", catalog.ErrInvalidName, name)
	}
	templates, err := reader.GetTemplates(ctx, key)
	if err != nil {
		return fmt.Errorf("listing templates of %s: %w", key, err)
	}
	return printTemplateRows(key, templateRows(templates), jsonOutput)
}

func printSetRows(rows []SetRow, jsonOutput bool) error {
	if jsonOutput {
		return outputJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Println("No template sets found.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SET\tTEMPLATES\tNO FACE")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\n", r.Name, r.Templates, r.NoFace)
	}
	return w.Flush()
}

func printTemplateRows(set string, rows []TemplateRow, jsonOutput bool) error {
	if jsonOutput {
		return outputJSON(map[string]any{"set": set, "templates": rows})
	}
	if len(rows) == 0 {
		fmt.Printf("No templates found for set %s.\n", set)
		return nil
	}
	fmt.Printf("Set %s: %d templates\n\n", set, len(rows))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tFACE\tDIMS\tUPDATED")
	for _, r := range rows {
		face := "yes"
		if r.NoFace {
			face = "no"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", r.Index, face, r.Dims, r.UpdatedAt)
	}
	return w.Flush()
}
