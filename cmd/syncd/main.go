package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"possync/internal/database"
	"possync/internal/export"
	"possync/internal/maintenance"
	"possync/internal/models"
	"possync/internal/repository"
	"possync/internal/scheduler"

	"github.com/urfave/cli/v2"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "syncd",
		Usage: "keeps the terminal's offline orders in sync with the restaurant backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config",
				EnvVars: []string{"CONFIG_PATH"},
				Value:   defaultConfigPath,
			},
		},
		Action: serveCommand,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the sync schedule, the API and housekeeping until interrupted",
				Action: serveCommand,
			},
			{
				Name:   "sync",
				Usage:  "run one sync pass now and print the result",
				Action: syncCommand,
			},
			{
				Name:   "status",
				Usage:  "print the schedule status mirrored by a running daemon",
				Action: statusCommand,
			},
			{
				Name:  "export",
				Usage: "write an xlsx report of the local orders",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Usage: "output directory (default exports.path)"},
					&cli.StringFlag{Name: "state", Usage: "only orders in this sync state: pending, synced or failed"},
				},
				Action: exportCommand,
			},
			{
				Name:      "requeue",
				Usage:     "move a failed order back to pending",
				ArgsUsage: "<order-id>",
				Action:    requeueCommand,
			},
			{
				Name:   "backup",
				Usage:  "back up the local store and prune old backups",
				Action: backupCommand,
			},
			{
				Name:   "purge",
				Usage:  "delete synced orders past retention",
				Action: purgeCommand,
			},
		},
	}
}

func syncCommand(c *cli.Context) error {
	rt, err := bootstrap(c.String("config"))
	if err != nil {
		return err
	}
	defer rt.Close()

	run, err := rt.scheduler.RunOnce(c.Context)
	if errors.Is(err, scheduler.ErrPreconditionUnmet) {
		return cli.Exit("network unavailable, nothing was sent", 1)
	}
	if err != nil {
		return err
	}

	if err := printJSON(c, run); err != nil {
		return err
	}
	if run.Outcome == models.OutcomeTotalFailure {
		return cli.Exit(failureMessage(run), 1)
	}
	return nil
}

func failureMessage(run models.SyncRun) string {
	if run.Attempted == 0 {
		return "sync failed: pending orders could not be listed, see the log"
	}
	return fmt.Sprintf("sync failed: %d of %d orders failed, see the log for causes", run.Failed, run.Attempted)
}

func statusCommand(c *cli.Context) error {
	rt, err := loadConfigAndLogger(c.String("config"))
	if err != nil {
		return err
	}
	defer rt.Close()

	client := rt.connectRedis()
	if client == nil {
		return cli.Exit("status is shared through redis; configure redis.address", 1)
	}
	rt.redis = client

	st, err := repository.NewRedisStatusRepository(client, 0).GetStatus(c.Context, rt.cfg.Sync.Name)
	if err != nil {
		return err
	}
	if st == nil {
		return cli.Exit("no status recorded for "+rt.cfg.Sync.Name, 1)
	}
	return printJSON(c, st)
}

func exportCommand(c *cli.Context) error {
	state := models.SyncState(c.String("state"))
	if state != "" && !state.Valid() {
		return cli.Exit(fmt.Sprintf("unknown state %q", state), 2)
	}

	rt, err := openStore(c.String("config"))
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := export.Collect(c.Context, rt.db, state)
	if err != nil {
		return err
	}

	dir := c.String("out")
	if dir == "" {
		dir = rt.cfg.Exports.Path
	}
	path, err := export.Save(dir, report)
	if err != nil {
		return err
	}

	rt.logger.Info().Str("file_path", path).Int("orders", len(report.Orders)).Msg("Excel file created")
	_, err = fmt.Fprintln(c.App.Writer, path)
	return err
}

func requeueCommand(c *cli.Context) error {
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return cli.Exit("usage: syncd requeue <order-id>", 2)
	}

	rt, err := openStore(c.String("config"))
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.db.RequeueOrder(c.Context, id); err != nil {
		if errors.Is(err, database.ErrOrderNotFound) || errors.Is(err, database.ErrInvalidTransition) {
			return cli.Exit(err.Error(), 1)
		}
		return err
	}

	rt.logger.Info().Int64("order_id", id).Msg("order requeued")
	return nil
}

func backupCommand(c *cli.Context) error {
	rt, err := openStore(c.String("config"))
	if err != nil {
		return err
	}
	defer rt.Close()

	path, err := rt.housekeeper().RunBackup(c.Context)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, path)
	return err
}

func purgeCommand(c *cli.Context) error {
	rt, err := openStore(c.String("config"))
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.housekeeper().RunPurge(c.Context)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "purged %d synced orders\n", n)
	return err
}

func (rt *runtime) housekeeper() *maintenance.Housekeeper {
	backups := database.NewBackupService(rt.db, rt.cfg.Backup, &rt.logger)
	return maintenance.New(rt.cfg.Backup, rt.cfg.Housekeeping, backups, rt.db, &rt.logger)
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
