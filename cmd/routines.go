package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botmesh/internal/config"
	"github.com/nextlevelbuilder/botmesh/internal/routines"
)

func routinesCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "routines",
		Short: "Inspect the persisted routines scheduler",
	}
	root.AddCommand(routinesListCmd())
	root.AddCommand(routinesRunNowCmd())
	return root
}

func openRoutinesStore() (*routines.FileStore, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	storePath := cfg.Routines.StorePath
	if storePath == "" {
		storePath = "routines.json"
	}
	return routines.NewFileStore(storePath)
}

func routinesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled routines",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRoutinesStore()
			if err != nil {
				return err
			}
			jobs := store.All()
			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKIND\tENABLED\tNEXT RUN\tLAST STATUS")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
					j.ID, j.Name, j.Schedule.Kind, j.Enabled, j.State.NextRunAt, j.State.LastStatus)
			}
			return w.Flush()
		},
	}
}

func routinesRunNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-now <id>",
		Short: "Force a routine to fire immediately, bypassing its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			storePath := cfg.Routines.StorePath
			if storePath == "" {
				storePath = "routines.json"
			}
			store, err := routines.NewFileStore(storePath)
			if err != nil {
				return err
			}
			dispatch := routines.DispatcherFunc(func(r routines.Routine) error {
				fmt.Printf("dispatched routine %s (%s)\n", r.ID, r.Name)
				return nil
			})
			sched := routines.NewScheduler(store, dispatch, 0)
			ok, err := sched.RunNow(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("routine %q not found", args[0])
			}
			return nil
		},
	}
}
