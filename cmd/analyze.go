package main

import (
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/siteselect-cli/internal/engine"
)

var (
	analyzeDistrict string
	analyzeExcludes []string
	analyzeScores   []string
	analyzeOutDir   string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a suitability analysis directly, without a task record",
	Long:  "Runs the engine for one district with progress reported to the log only. Useful for local experimentation with factor configurations.",
	RunE: func(cmd *cobra.Command, args []string) error {
		factorCfg, err := parseFactorFlags(analyzeExcludes, analyzeScores)
		if err != nil {
			return err
		}

		catalog := engine.DefaultCatalog(cfg.Data.Dir)
		factors, err := engine.Resolve(catalog, factorCfg)
		if err != nil {
			return err
		}
		if len(factors) == 0 {
			return eris.New("no known factors configured")
		}

		outDir := analyzeOutDir
		if outDir == "" {
			outDir = filepath.Join(cfg.Data.ScratchDir, "analyze-"+analyzeDistrict)
		}
		eng, err := engine.New(catalog, outDir, factors)
		if err != nil {
			return err
		}

		final, err := eng.ProcessDistrict(cmd.Context(), analyzeDistrict, engine.LogMonitor{})
		if err != nil {
			return err
		}
		if final == "" {
			return eris.Errorf("no score rasters produced for district %s", analyzeDistrict)
		}
		zap.L().Info("analysis complete", zap.String("final", final))
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeDistrict, "district", "", "district code to process")
	analyzeCmd.Flags().StringArrayVar(&analyzeExcludes, "exclude", nil, "exclusion factor, kind[=buffer] (repeatable)")
	analyzeCmd.Flags().StringArrayVar(&analyzeScores, "score", nil, "scoring factor, kind[=weight[:b0,b1,.../p0,p1,...]] (repeatable)")
	analyzeCmd.Flags().StringVar(&analyzeOutDir, "out", "", "output directory (default under the scratch dir)")
	_ = analyzeCmd.MarkFlagRequired("district")
	rootCmd.AddCommand(analyzeCmd)
}
