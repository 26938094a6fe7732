package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botmesh/internal/config"
	"github.com/nextlevelbuilder/botmesh/internal/worklog"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and dependency health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("botmesh doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults will be used)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Printf("  Bots:     %d configured\n", len(cfg.Bots))
	fmt.Printf("  Routines: store=%s\n", cfg.Routines.StorePath)
	fmt.Printf("  Sidekick: max_per_bot=%d max_per_room=%d\n", cfg.Sidekick.MaxPerBot, cfg.Sidekick.MaxPerRoom)

	dsn := os.Getenv("BOTMESH_POSTGRES_DSN")
	if dsn == "" {
		fmt.Println("  Worklog:  BOTMESH_POSTGRES_DSN not set, work logs stay in-memory")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := worklog.Open(ctx, dsn)
	if err != nil {
		fmt.Printf("  Worklog:  CONNECT/MIGRATE FAILED (%s)\n", err)
		return
	}
	defer db.Close()
	fmt.Println("  Worklog:  connected, migrations applied")
}
