package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tiltlab/tilt/internal/scheduler"
	"github.com/tiltlab/tilt/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the pipeline on a schedule",
	Long: `Runs the pipeline jobs on cron schedules.

Registered jobs:
- daily_collection: weekdays 17:30 (constituents, prices, fundamentals)
- daily_ranking:    weekdays 19:00 (screen, score, rank)
- rebalance:        at the configured frequency, 20:00

Subcommands:
  start   - start the scheduler daemon
  list    - list registered jobs
  run     - run one job immediately

Example:
  tilt scheduler start
  tilt scheduler list
  tilt scheduler run daily_ranking`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler daemon",
		Long: `Starts the scheduler and registers every pipeline job.

The daemon runs until interrupted. Ctrl+C stops the cron runner, waits
for in-flight jobs, and prints the execution statistics.`,
		RunE: runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "Run one job immediately",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
}

// pipelineJobs builds the job set every scheduler subcommand works with.
func pipelineJobs(s *stack) []scheduler.Job {
	return []scheduler.Job{
		jobs.NewCollectionJob(s.engine, s.log),
		jobs.NewRankJob(s.engine, s.log),
		jobs.NewRebalanceJob(s.engine, s.strategy.Rebalance.Frequency, s.log),
	}
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== tilt Scheduler ===")

	// Wire dependencies
	s, err := buildStack(false)
	if err != nil {
		return err
	}
	defer s.Close()

	// Register jobs
	sched := scheduler.New(s.log)
	jobSet := pipelineJobs(s)
	for _, job := range jobSet {
		if err := sched.AddJob(job); err != nil {
			return fmt.Errorf("add job: %w", err)
		}
	}

	// Start scheduler
	sched.Start()

	fmt.Println("\n✅ Scheduler started")
	fmt.Println("\nRegistered jobs:")
	for _, job := range jobSet {
		fmt.Printf("  - %-16s  %s\n", job.Name(), job.Schedule())
	}
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()

	printJobStats(sched)
	fmt.Println("Scheduler stopped")

	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	s, err := buildStack(false)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Println("Registered jobs:")
	for _, job := range pipelineJobs(s) {
		fmt.Printf("  - %-16s  %s\n", job.Name(), job.Schedule())
	}

	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]

	s, err := buildStack(false)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, job := range pipelineJobs(s) {
		if job.Name() != jobName {
			continue
		}

		fmt.Printf("Running job: %s\n", jobName)
		if err := job.Run(cmd.Context()); err != nil {
			return fmt.Errorf("run job: %w", err)
		}

		fmt.Println("✅ Job completed")
		return nil
	}

	return fmt.Errorf("job %s not found", jobName)
}

// printJobStats prints each job's execution history on daemon shutdown.
func printJobStats(sched *scheduler.Scheduler) {
	stats := sched.Stats()

	ran := false
	for _, name := range sched.Jobs() {
		st := stats[name]
		if st.TotalRuns == 0 {
			continue
		}
		ran = true

		fmt.Printf("\n📊 %s\n", name)
		fmt.Printf("   Total Runs: %d\n", st.TotalRuns)
		fmt.Printf("   Success: %d (%.1f%%)\n", st.SuccessCount, st.SuccessRate*100)
		fmt.Printf("   Failures: %d\n", st.FailureCount)
		if st.LastRun != nil {
			fmt.Printf("   Last Run: %s\n", st.LastRun.Format("2006-01-02 15:04:05"))
		}
	}

	if ran {
		fmt.Println()
	}
}
