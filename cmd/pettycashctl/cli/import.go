package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/pettycash/internal/pettycash"
)

// FundManifest is the YAML document accepted by `fund import`.
type FundManifest struct {
	Funds []pettycash.CreateFundWizard `yaml:"funds"`
}

// ImportResult reports the outcome for one manifest entry.
type ImportResult struct {
	Code   string `json:"code"`
	FundID int64  `json:"fund_id,omitempty"`
	Move   string `json:"move,omitempty"`
	Error  string `json:"error,omitempty"`
}

// LoadFundManifest decodes a manifest and rejects unknown keys.
func LoadFundManifest(r io.Reader) (FundManifest, error) {
	var manifest FundManifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&manifest); err != nil {
		return FundManifest{}, fmt.Errorf("pettycashctl: decode manifest: %w", err)
	}
	if len(manifest.Funds) == 0 {
		return FundManifest{}, fmt.Errorf("pettycashctl: manifest lists no funds")
	}
	return manifest, nil
}

func newFundImportCommand(deps Deps, flags *globalFlags) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Establish funds listed in a YAML manifest through the setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.actorID <= 0 {
				return errActorRequired
			}
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("pettycashctl: open manifest: %w", err)
			}
			defer f.Close()
			manifest, err := LoadFundManifest(f)
			if err != nil {
				return err
			}

			results := make([]ImportResult, 0, len(manifest.Funds))
			failed := 0
			for _, wiz := range manifest.Funds {
				res := ImportResult{Code: wiz.FundCode}
				out, err := deps.Funds.InitializeFund(cmd.Context(), wiz, flags.actorID)
				if err != nil {
					res.Error = err.Error()
					failed++
				} else {
					res.FundID = out.Fund.ID
					res.Move = out.PayableMove.Name
				}
				results = append(results, res)
			}

			if flags.json {
				if err := writeJSON(deps.Stdout, results); err != nil {
					return err
				}
			} else {
				for _, res := range results {
					if res.Error != "" {
						fmt.Fprintf(deps.Stdout, "%s\tFAILED\t%s\n", res.Code, res.Error)
						continue
					}
					fmt.Fprintf(deps.Stdout, "%s\tfund %d\t%s\n", res.Code, res.FundID, res.Move)
				}
			}
			if failed > 0 {
				return fmt.Errorf("pettycashctl: %d of %d funds failed to import", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "path to the YAML manifest")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
