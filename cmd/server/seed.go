package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warp/clockd/catalog"
	"github.com/warp/clockd/store/sqlite"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Import a YAML catalog into the sqlite database",
	Long: `Replaces the periods, teams, employees, tasks, projects and holidays held in
the sqlite database with the contents of a YAML catalog. Entries are untouched.`,
	Example: `
  clockd seed --file ./catalog.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Driver != "sqlite" {
			return fmt.Errorf("seed needs the sqlite driver, configured driver is %q", cfg.Database.Driver)
		}
		path := seedFile
		if path == "" {
			path = cfg.Catalog.SeedFile
		}
		if path == "" {
			return fmt.Errorf("no catalog file: pass --file or set catalog.seed_file")
		}

		snap, err := catalog.LoadFile(path)
		if err != nil {
			return err
		}
		st, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.ImportCatalog(cmd.Context(), snap); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d employees, %d teams, %d tasks, %d projects, %d periods, %d holidays into %s\n",
			len(snap.Employees), len(snap.Teams), len(snap.Tasks), len(snap.Projects), len(snap.Periods), len(snap.Holidays), cfg.Database.Path)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML catalog file (default catalog.seed_file)")
}
