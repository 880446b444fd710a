package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"qms/visit-queue/internal/models"
	"qms/visit-queue/internal/queue"
)

type boardSource interface {
	GetDepartmentQueues(ctx context.Context, departmentID int64) ([]models.QueueEntry, error)
}

func displayCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "display <department-id>",
		Short: "Show a department's called patients, the way the waiting-room screen does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			departmentID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || departmentID <= 0 {
				return fmt.Errorf("department id must be a positive number: %q", args[0])
			}
			interval, _ := cmd.Flags().GetDuration("interval")
			if interval <= 0 {
				interval = a.cfg.DisplayInterval()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := a.logger.With().Int64("department_id", departmentID).Logger()
			err = runDisplay(ctx, cmd.OutOrStdout(), a.client, departmentID, interval, logger)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().Duration("interval", 0, "Refresh interval (default DISPLAY_SECONDS)")
	return cmd
}

// runDisplay polls the department queue and reprints the board whenever the
// called set changes. Failed polls keep the last board on screen.
func runDisplay(ctx context.Context, out io.Writer, src boardSource, departmentID int64, interval time.Duration, logger zerolog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var shown []models.QueueEntry
	first := true
	for {
		entries, err := src.GetDepartmentQueues(ctx, departmentID)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			logger.Warn().Err(err).Msg("display refresh failed")
		default:
			board := queue.Board(entries)
			if first || !sameBoard(shown, board) {
				printBoard(out, departmentID, board)
				shown = board
				first = false
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func sameBoard(a, b []models.QueueEntry) bool {
	return slices.EqualFunc(a, b, func(x, y models.QueueEntry) bool {
		return x.QueueID == y.QueueID && x.Status == y.Status
	})
}

func printBoard(w io.Writer, departmentID int64, board []models.QueueEntry) {
	fmt.Fprintf(w, "== Department %d  %s ==\n", departmentID, time.Now().Format("15:04:05"))
	if len(board) == 0 {
		fmt.Fprintln(w, "   no patients called")
		return
	}
	for _, entry := range board {
		state := "please proceed"
		if entry.Status == models.StatusInProgress {
			state = "being served"
		}
		place := entry.DepartmentLocation
		if place == "" {
			place = entry.Department
		}
		fmt.Fprintf(w, "   %-6s %-16s %s", entry.QueueNumber, state, entry.PatientName)
		if place != "" {
			fmt.Fprintf(w, "  (%s)", place)
		}
		fmt.Fprintln(w)
	}
}
