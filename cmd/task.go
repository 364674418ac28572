package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/siteselect-cli/internal/engine"
	"github.com/sells-group/siteselect-cli/internal/task"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage analysis tasks",
	Long:  "Commands for creating, processing, cancelling, and inspecting durable analysis tasks.",
}

// -- task create --

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an analysis task and run it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		userID, _ := cmd.Flags().GetString("user")
		name, _ := cmd.Flags().GetString("name")
		district, _ := cmd.Flags().GetString("district")
		excludes, _ := cmd.Flags().GetStringArray("exclude")
		scores, _ := cmd.Flags().GetStringArray("score")
		noRun, _ := cmd.Flags().GetBool("no-run")

		factorCfg, err := parseFactorFlags(excludes, scores)
		if err != nil {
			return err
		}
		exclJSON, err := json.Marshal(factorCfg.Exclusions)
		if err != nil {
			return eris.Wrap(err, "task create: marshal exclusions")
		}
		scoreJSON, err := json.Marshal(factorCfg.Scoring)
		if err != nil {
			return eris.Wrap(err, "task create: marshal scoring")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		created, err := st.CreateTask(ctx, task.MapTask{
			UserID:       userID,
			Name:         name,
			DistrictCode: district,
			Exclusions:   string(exclJSON),
			Scoring:      string(scoreJSON),
		})
		if err != nil {
			return eris.Wrap(err, "task create")
		}
		fmt.Println(created.ID)

		if noRun {
			return nil
		}

		obj, err := initStorage(ctx)
		if err != nil {
			return err
		}
		proc := task.NewProcessor(st, obj, engine.DefaultCatalog(cfg.Data.Dir), cfg.Data.ScratchDir)
		proc.ProcessTask(ctx, created.ID)
		return nil
	},
}

// -- task process --

var taskProcessCmd = &cobra.Command{
	Use:   "process <task-id>",
	Short: "Process one existing task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		obj, err := initStorage(ctx)
		if err != nil {
			return err
		}

		proc := task.NewProcessor(st, obj, engine.DefaultCatalog(cfg.Data.Dir), cfg.Data.ScratchDir)
		proc.ProcessTask(ctx, args[0])
		return nil
	},
}

// -- task cancel --

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Request cancellation of a pending or processing task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		cancelled, err := st.Cancel(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "task cancel")
		}
		if !cancelled {
			fmt.Fprintln(os.Stderr, "Task is already terminal; nothing to cancel.")
			return nil
		}
		fmt.Println("cancelled")
		return nil
	},
}

// -- task list --

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis tasks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		tasks, err := st.ListTasks(ctx, task.Filter{
			Status: task.ParseStatus(status),
			UserID: user,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "task list")
		}

		if len(tasks) == 0 {
			fmt.Fprintln(os.Stderr, "No tasks found.")
			return nil
		}

		formatTaskList(os.Stdout, tasks)
		return nil
	},
}

// -- task status --

// taskDetail is the JSON shape emitted by "task status".
type taskDetail struct {
	Task      *task.MapTask         `json:"task"`
	Progress  []task.ProgressEntry  `json:"progress"`
	Artifacts []task.ArtifactRecord `json:"artifacts"`
}

var taskStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show a task with its progress and artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		t, err := st.GetTask(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "task status")
		}
		if t == nil {
			return eris.Errorf("task %s not found", args[0])
		}

		progress, err := st.ListProgress(ctx, t.ID)
		if err != nil {
			return eris.Wrap(err, "task status: progress")
		}
		artifacts, err := st.ListArtifacts(ctx, t.ID)
		if err != nil {
			return eris.Wrap(err, "task status: artifacts")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(taskDetail{Task: t, Progress: progress, Artifacts: artifacts})
	},
}

// -- task presign --

var taskPresignCmd = &cobra.Command{
	Use:   "presign <task-id>",
	Short: "Print a presigned download URL for a task artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, _ := cmd.Flags().GetString("kind")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		artifacts, err := st.ListArtifacts(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "task presign")
		}

		// Later uploads of the same kind supersede earlier ones.
		var key string
		for _, a := range artifacts {
			if a.Kind == kind {
				key = a.Key
			}
		}
		if key == "" {
			return eris.Errorf("task %s has no %q artifact", args[0], kind)
		}

		obj, err := initStorage(ctx)
		if err != nil {
			return err
		}
		url, err := obj.PresignedURL(ctx, key, time.Duration(cfg.Worker.PresignHours)*time.Hour)
		if err != nil {
			return eris.Wrap(err, "task presign")
		}
		fmt.Println(url)
		return nil
	},
}

func init() {
	taskCreateCmd.Flags().String("user", "", "owner user id")
	taskCreateCmd.Flags().String("name", "", "human-readable task name")
	taskCreateCmd.Flags().String("district", "", "district code to process")
	taskCreateCmd.Flags().StringArray("exclude", nil, "exclusion factor, kind[=buffer] (repeatable)")
	taskCreateCmd.Flags().StringArray("score", nil, "scoring factor, kind[=weight[:b0,b1,.../p0,p1,...]] (repeatable)")
	taskCreateCmd.Flags().Bool("no-run", false, "create the task without processing it")
	_ = taskCreateCmd.MarkFlagRequired("user")
	_ = taskCreateCmd.MarkFlagRequired("district")

	taskListCmd.Flags().String("status", "", "filter by status (pending, processing, success, failure, cancelled)")
	taskListCmd.Flags().String("user", "", "filter by owner user id")
	taskListCmd.Flags().Int("limit", 50, "max number of tasks to display")

	taskPresignCmd.Flags().String("kind", "final", "artifact kind (restricted, weighted, final, or a factor kind)")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskProcessCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskPresignCmd)
	rootCmd.AddCommand(taskCmd)
}

// formatTaskList writes a tabular list of tasks to w.
func formatTaskList(out io.Writer, tasks []task.MapTask) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUSER\tDISTRICT\tSTATUS\tCREATED\tDURATION")
	for _, t := range tasks {
		dur := "-"
		if t.StartedAt != nil && t.EndedAt != nil {
			dur = t.EndedAt.Sub(*t.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.UserID, t.DistrictCode, t.Status,
			t.CreatedAt.Format(time.RFC3339), dur)
	}
	if err := w.Flush(); err != nil {
		zap.L().Warn("flush task list", zap.Error(err))
	}
}
