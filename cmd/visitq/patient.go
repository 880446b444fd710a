package main

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"qms/visit-queue/internal/models"
	"qms/visit-queue/internal/notify"
	"qms/visit-queue/internal/tracker"
	"qms/visit-queue/internal/vn"
)

func lookupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup [vn]",
		Short: "Show a queue entry by visit number (1, VN0001, VN260112-0001) or --phone",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phone, _ := cmd.Flags().GetString("phone")
			var entry *models.QueueEntry
			var err error
			switch {
			case phone != "":
				entry, err = a.client.GetQueueByPhone(cmd.Context(), strings.TrimSpace(phone))
			case len(args) == 1:
				visit, nerr := vn.Normalize(args[0], time.Now())
				if nerr != nil {
					return errors.New(vn.ErrorMessage(args[0]))
				}
				entry, err = a.client.GetQueueByVN(cmd.Context(), visit)
			default:
				return errors.New("a visit number or --phone is required")
			}
			if err != nil {
				return err
			}
			if entry == nil {
				return tracker.ErrNotFound
			}
			printEntry(cmd.OutOrStdout(), *entry)
			return nil
		},
	}
	cmd.Flags().String("phone", "", "Look up by the phone number registered with the visit")
	return cmd
}

func watchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [vn]",
		Short: "Track a queue entry live and announce when it is called",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phone, _ := cmd.Flags().GetString("phone")
			mute, _ := cmd.Flags().GetBool("mute")
			if phone == "" && len(args) == 0 {
				return errors.New("a visit number or --phone is required")
			}

			out := &lockedWriter{w: cmd.OutOrStdout()}
			notifier := notify.NewNotifier(notify.NotifierOptions{
				Duration:     a.cfg.AlertDuration(),
				Provider:     notify.NewProvider(a.cfg.AlertProvider, a.cfg.AlertWebhookURL, a.logger),
				SoundEnabled: a.cfg.SoundEnabled && !mute,
				Logger:       a.logger,
				OnChange: func(banner *notify.Banner) {
					if banner == nil {
						fmt.Fprintln(out, "-- alert dismissed")
						return
					}
					fmt.Fprintf(out, "** %s: %s\n", banner.Alert.Title, banner.Alert.Message)
				},
			})
			defer notifier.Close()

			t := tracker.New(a.client, tracker.Options{
				WSURL:          a.cfg.WSURL,
				PollInterval:   a.cfg.PollInterval(),
				ReconnectDelay: a.cfg.ReconnectDelay(),
				Notifier:       notifier,
				Logger:         a.logger,
				OnUpdate:       func(entry models.QueueEntry) { printEntry(out, entry) },
				OnConnectivity: func(connected bool) {
					if connected {
						fmt.Fprintln(out, "-- live updates connected")
						return
					}
					fmt.Fprintln(out, "-- live updates lost, polling")
				},
			})
			defer t.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var err error
			if phone != "" {
				_, err = t.LookupByPhone(ctx, strings.TrimSpace(phone))
			} else {
				_, err = t.LookupAndTrack(ctx, args[0])
			}
			if errors.Is(err, vn.ErrInvalidFormat) && len(args) == 1 {
				return errors.New(vn.ErrorMessage(args[0]))
			}
			if err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().String("phone", "", "Track the entry registered with this phone number")
	cmd.Flags().Bool("mute", false, "Show banners without sound")
	return cmd
}

func printEntry(w io.Writer, entry models.QueueEntry) {
	status := entry.Status
	if entry.IsSkipped {
		status = "skipped"
	}
	fmt.Fprintf(w, "%s  %s  %s  [%s]\n", entry.QueueNumber, vn.Display(entry.VN), entry.PatientName, status)
	if entry.Position > 0 {
		fmt.Fprintf(w, "   position %d", entry.Position)
		if entry.EstimatedTime != "" {
			fmt.Fprintf(w, ", about %s", entry.EstimatedTime)
		}
		fmt.Fprintln(w)
	}
	if entry.CurrentQueue != "" {
		fmt.Fprintf(w, "   now serving %s\n", entry.CurrentQueue)
	}
	place := entry.DepartmentLocation
	if place == "" {
		place = entry.Department
	}
	if place != "" {
		fmt.Fprintf(w, "   %s\n", place)
	}
}
