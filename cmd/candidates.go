package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/newswatch/internal/model"
)

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "Manage tracked candidates",
}

var candidatesImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Upsert candidates from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open candidates file")
		}
		defer f.Close() //nolint:errcheck

		candidates, err := loadCandidates(f)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, c := range candidates {
			if err := st.UpsertCandidate(ctx, c); err != nil {
				return eris.Wrapf(err, "import candidate %d", c.ID)
			}
		}
		zap.L().Info("import complete", zap.Int("candidates", len(candidates)), zap.String("file", args[0]))
		return nil
	},
}

var candidatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List candidates and their pass flags",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		candidates, err := st.ListCandidates(ctx)
		if err != nil {
			return eris.Wrap(err, "candidates list")
		}
		formatCandidates(os.Stdout, candidates)
		return nil
	},
}

func init() {
	candidatesCmd.AddCommand(candidatesImportCmd)
	candidatesCmd.AddCommand(candidatesListCmd)
	rootCmd.AddCommand(candidatesCmd)
}

type candidateFile struct {
	Candidates []candidateEntry `yaml:"candidates"`
}

type candidateEntry struct {
	ID       int64    `yaml:"id"`
	Name     string   `yaml:"name"`
	TopicID  string   `yaml:"topic_id"`
	Keywords []string `yaml:"keywords"`
	Active   *bool    `yaml:"active"`
}

// loadCandidates decodes a candidates file. Entries are active unless they
// say otherwise; ids must be positive and unique.
func loadCandidates(r io.Reader) ([]model.Candidate, error) {
	var file candidateFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, eris.Wrap(err, "decode candidates file")
	}

	seen := make(map[int64]bool, len(file.Candidates))
	out := make([]model.Candidate, 0, len(file.Candidates))
	for i, e := range file.Candidates {
		if e.ID <= 0 {
			return nil, eris.Errorf("candidates[%d]: id must be > 0", i)
		}
		if seen[e.ID] {
			return nil, eris.Errorf("candidates[%d]: duplicate id %d", i, e.ID)
		}
		seen[e.ID] = true
		if strings.TrimSpace(e.Name) == "" {
			return nil, eris.Errorf("candidates[%d]: name is required", i)
		}

		c := model.Candidate{
			ID:       e.ID,
			Name:     strings.TrimSpace(e.Name),
			Keywords: e.Keywords,
			Active:   e.Active == nil || *e.Active,
		}
		if topic := strings.TrimSpace(e.TopicID); topic != "" {
			c.TopicID = &topic
		}
		out = append(out, c)
	}
	return out, nil
}

func formatCandidates(out io.Writer, candidates []model.Candidate) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tTOPIC\tACTIVE\tDAILY\tHISTORICAL\tKEYWORDS")
	for _, c := range candidates {
		topic := "-"
		if c.TopicID != nil {
			topic = *c.TopicID
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%t\t%t\t%s\n",
			c.ID, c.Name, topic, c.Active, c.DailyPass, c.HistoricalPass, strings.Join(c.Keywords, ","))
	}
	_ = w.Flush()
}
