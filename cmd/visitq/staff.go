package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"qms/visit-queue/internal/models"
	"qms/visit-queue/internal/queue"
	"qms/visit-queue/internal/staff"
)

func staffCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Staff queue management",
	}
	cmd.PersistentFlags().String("username", "", "Staff username (default STAFF_USERNAME)")
	cmd.PersistentFlags().String("password", "", "Staff password (default STAFF_PASSWORD)")

	cmd.AddCommand(&cobra.Command{
		Use:   "login",
		Short: "Check credentials and show the staff identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := a.login(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s), %s [department %d]\n",
				identity.StaffName, identity.Role, identity.DepartmentName, identity.DepartmentID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the department queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.controller(cmd, staff.Options{})
			if err != nil {
				return err
			}
			printView(cmd.OutOrStdout(), ctrl.View())
			return nil
		},
	})

	for _, action := range queue.Actions {
		cmd.AddCommand(actionCmd(a, action))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "next",
		Short: "Complete the active patient and call the next one",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.controller(cmd, staff.Options{})
			if err != nil {
				return err
			}
			called, err := ctrl.CompleteAndCallNext(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "called %s\n", staff.Describe(called))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <vn>",
		Short: "Issue a queue ticket for a registered visit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.controller(cmd, staff.Options{})
			if err != nil {
				return err
			}
			resp, err := ctrl.CreateQueue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue %s created (id %d)\n", resp.QueueNumber, resp.QueueID)
			return nil
		},
	})

	cmd.AddCommand(staffWatchCmd(a))
	return cmd
}

func actionCmd(a *app, action queue.Action) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <queue-id>",
		Short: "Run " + string(action) + " on a queue entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("queue id must be a number: %q", args[0])
			}
			ctrl, err := a.controller(cmd, staff.Options{})
			if err != nil {
				return err
			}
			resp, err := ctrl.Do(cmd.Context(), queueID, action)
			if err != nil {
				return err
			}
			printResponse(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func staffWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the department queue on screen and accept commands from stdin",
		Long: "Refreshes the department queue periodically. Commands: next, list, refresh,\n" +
			"create <vn>, and call|arrived|skip|complete|recall <queue-id>.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &lockedWriter{w: cmd.OutOrStdout()}
			ctrl, err := a.controller(cmd, staff.Options{
				OnChange: func(view staff.View) {
					if !view.Busy {
						printView(out, view)
					}
				},
				OnError: func(err error) { fmt.Fprintf(out, "!! %v\n", err) },
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			lines := make(chan string)
			go scanLines(cmd.InOrStdin(), lines)

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				err := ctrl.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			group.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case line, ok := <-lines:
						if !ok {
							lines = nil
							continue
						}
						dispatch(ctx, out, ctrl, line)
					}
				}
			})
			return group.Wait()
		},
	}
}

func scanLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

// dispatch runs one console command. Errors already reach the operator
// through OnError.
func dispatch(ctx context.Context, out io.Writer, ctrl *staff.Controller, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "next":
		if called, err := ctrl.CompleteAndCallNext(ctx); err == nil {
			fmt.Fprintf(out, "called %s\n", staff.Describe(called))
		}
	case "list":
		printView(out, ctrl.View())
	case "refresh":
		if err := ctrl.Refresh(ctx); err != nil {
			fmt.Fprintf(out, "!! %v\n", err)
		}
	case "create":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: create <vn>")
			return
		}
		if resp, err := ctrl.CreateQueue(ctx, fields[1]); err == nil {
			fmt.Fprintf(out, "queue %s created\n", resp.QueueNumber)
		}
	default:
		action, ok := queue.ParseAction(fields[0])
		if !ok || len(fields) != 2 {
			fmt.Fprintf(out, "unknown command %q\n", line)
			return
		}
		queueID, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			fmt.Fprintf(out, "queue id must be a number: %q\n", fields[1])
			return
		}
		if resp, err := ctrl.Do(ctx, queueID, action); err == nil {
			printResponse(out, resp)
		}
	}
}

func (a *app) login(cmd *cobra.Command) (models.StaffIdentity, error) {
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	if username == "" {
		username = a.cfg.StaffUsername
	}
	if password == "" {
		password = a.cfg.StaffPassword
	}
	if username == "" || password == "" {
		return models.StaffIdentity{}, errors.New("staff credentials required: --username/--password or STAFF_USERNAME/STAFF_PASSWORD")
	}
	return a.client.StaffLogin(cmd.Context(), username, password)
}

// controller logs in and loads the department queue once.
func (a *app) controller(cmd *cobra.Command, opts staff.Options) (*staff.Controller, error) {
	identity, err := a.login(cmd)
	if err != nil {
		return nil, err
	}
	opts.RefreshInterval = a.cfg.RefreshInterval()
	opts.CallNextDelay = a.cfg.CallNextDelay()
	opts.Logger = a.logger.With().Int64("department_id", identity.DepartmentID).Logger()
	ctrl := staff.New(a.client, identity, opts)
	if err := ctrl.Refresh(cmd.Context()); err != nil {
		return nil, err
	}
	return ctrl, nil
}

func printResponse(w io.Writer, resp models.APIResponse) {
	fmt.Fprintln(w, resp.Message)
	if resp.PhoneNumber != "" {
		fmt.Fprintf(w, "   contact %s at %s\n", resp.PatientName, resp.PhoneNumber)
	}
}

func printView(w io.Writer, view staff.View) {
	if view.Active != nil {
		fmt.Fprintf(w, "Active:  %s [%s]  id=%d\n", staff.Describe(*view.Active), view.Active.Status, view.Active.QueueID)
	} else {
		fmt.Fprintln(w, "Active:  -")
	}
	if view.Next != nil {
		fmt.Fprintf(w, "Next:    %s\n", staff.Describe(*view.Next))
	}
	fmt.Fprintf(w, "Waiting (%d):\n", len(view.Waiting))
	for i, entry := range view.Waiting {
		fmt.Fprintf(w, "  %2d. %s  id=%d\n", i+1, staff.Describe(entry), entry.QueueID)
	}
	if len(view.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped (%d):\n", len(view.Skipped))
		for _, entry := range view.Skipped {
			fmt.Fprintf(w, "      %s  id=%d\n", staff.Describe(entry), entry.QueueID)
		}
	}
	fmt.Fprintf(w, "Completed: %d\n", len(view.Completed))
}
