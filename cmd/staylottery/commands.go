package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/staylottery/internal/adminapi"
	"github.com/MarkoPoloResearchLab/staylottery/pkg/lottery"
)

func newServeCommand(cfg *runtimeConfig, loader *configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			serverConfig, err := loader.loadServer(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			app, err := newApplication(ctx, *cfg)
			if err != nil {
				return err
			}
			defer app.close()
			return adminapi.Run(ctx, serverConfig, app.service, app.logger)
		},
	}
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated CORS origins")
	cmd.Flags().String(flagSessionSigningKey, "", "session JWT signing key")
	cmd.Flags().String(flagSessionIssuer, "", "session JWT issuer")
	cmd.Flags().String(flagSessionCookie, "", "session cookie name")
	cmd.Flags().String(flagAdminUserIDs, "", "comma-separated administrator user ids")
	cmd.Flags().Duration(flagRequestTimeout, defaultRequestTimeout, "per-request timeout")
	cmd.Flags().Duration(flagNotificationWait, 2*time.Second, "how long a draw response waits for notifications")
	return cmd
}

func newDrawCommand(cfg *runtimeConfig, loader *configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Run the lottery for a reservation period",
		RunE: func(cmd *cobra.Command, args []string) error {
			periodID, actor, err := periodAndActor(cmd, loader)
			if err != nil {
				return err
			}
			wait, err := loader.duration(cmd, flagNotificationWait)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			app, err := newApplication(ctx, *cfg)
			if err != nil {
				return err
			}
			defer app.close()

			outcome, err := app.service.RunDraw(ctx, periodID, actor)
			if err != nil {
				return err
			}
			printDrawOutcome(cmd.OutOrStdout(), outcome)
			return awaitNotifications(ctx, cmd.OutOrStdout(), app.logger, outcome.Notifications, wait)
		},
	}
	cmd.Flags().String(flagPeriod, "", "reservation period id")
	cmd.Flags().String(flagActor, "", "administrator running the draw")
	cmd.Flags().Duration(flagNotificationWait, defaultNotificationWait, "how long to wait for notifications before exiting")
	return cmd
}

func newResetCommand(cfg *runtimeConfig, loader *configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Undo the draw of a reservation period",
		RunE: func(cmd *cobra.Command, args []string) error {
			periodID, actor, err := periodAndActor(cmd, loader)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			app, err := newApplication(ctx, *cfg)
			if err != nil {
				return err
			}
			defer app.close()

			outcome, err := app.service.Reset(ctx, periodID, actor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "period %s reset: %d results and %d history rows removed\n",
				outcome.PeriodID.String(), outcome.DeletedResults, outcome.DeletedHistory)
			return nil
		},
	}
	cmd.Flags().String(flagPeriod, "", "reservation period id")
	cmd.Flags().String(flagActor, "", "administrator resetting the draw")
	return cmd
}

func newStatusCommand(cfg *runtimeConfig, loader *configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show draw eligibility and statistics for a reservation period",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawPeriod, err := loader.requireString(cmd, flagPeriod)
			if err != nil {
				return err
			}
			periodID, err := lottery.NewReservationPeriodID(rawPeriod)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			app, err := newApplication(ctx, *cfg)
			if err != nil {
				return err
			}
			defer app.close()

			eligibility, err := app.service.CheckDrawEligibility(ctx, periodID)
			if err != nil {
				return err
			}
			stats, err := app.service.Stats(ctx, periodID)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), eligibility, stats)
			return nil
		},
	}
	cmd.Flags().String(flagPeriod, "", "reservation period id")
	return cmd
}

func periodAndActor(cmd *cobra.Command, loader *configLoader) (lottery.ReservationPeriodID, lottery.ActorID, error) {
	rawPeriod, err := loader.requireString(cmd, flagPeriod)
	if err != nil {
		return lottery.ReservationPeriodID{}, lottery.ActorID{}, err
	}
	rawActor, err := loader.requireString(cmd, flagActor)
	if err != nil {
		return lottery.ReservationPeriodID{}, lottery.ActorID{}, err
	}
	periodID, err := lottery.NewReservationPeriodID(rawPeriod)
	if err != nil {
		return lottery.ReservationPeriodID{}, lottery.ActorID{}, err
	}
	actor, err := lottery.NewActorID(rawActor)
	if err != nil {
		return lottery.ReservationPeriodID{}, lottery.ActorID{}, err
	}
	return periodID, actor, nil
}

func printDrawOutcome(out io.Writer, outcome lottery.DrawOutcome) {
	fmt.Fprintf(out, "period %s drawn: %d winners, %d not selected, %d ineligible\n",
		outcome.PeriodID.String(), outcome.Winners, outcome.Losers, outcome.Ineligible)
	if outcome.NoEligibleApplicants {
		fmt.Fprintln(out, "no eligible applicants: every applicant won recently")
	}
	if outcome.DegradedChecks > 0 {
		fmt.Fprintf(out, "warning: %d eligibility checks failed open\n", outcome.DegradedChecks)
	}
	for _, result := range outcome.Results {
		marker := "-"
		if result.IsWinner {
			marker = "W"
		} else if result.Ineligible {
			marker = "I"
		}
		fmt.Fprintf(out, "%4d %s %s\n", result.Rank, marker, result.EmployeeID.String())
	}
}

// awaitNotifications blocks until the dispatch summary arrives, wait elapses or ctx ends.
func awaitNotifications(ctx context.Context, out io.Writer, logger *zap.Logger, summaries <-chan lottery.NotificationSummary, wait time.Duration) error {
	if summaries == nil {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case summary := <-summaries:
		fmt.Fprintf(out, "notifications: %d sent, %d failed\n", summary.Sent, summary.Failed)
		if err := summary.Err(); err != nil {
			logger.Warn("draw notifications failed", zap.Error(err))
		}
		return nil
	case <-timer.C:
		fmt.Fprintln(out, "notifications: still pending, exiting")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func printStatus(out io.Writer, eligibility lottery.DrawEligibility, stats lottery.LotteryStats) {
	fmt.Fprintf(out, "period %s: state %s\n", eligibility.PeriodID.String(), eligibility.State)
	if eligibility.Eligible {
		fmt.Fprintln(out, "draw: ready")
	} else {
		fmt.Fprintf(out, "draw: blocked (%s)\n", eligibility.Reason)
	}
	fmt.Fprintf(out, "applications: %d total, %d pending, deadline %s\n",
		stats.TotalApplications, eligibility.PendingApplications, eligibility.ApplicationDeadline.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "rooms: %d, competition rate %.2f\n", stats.AvailableRooms, stats.CompetitionRate)
	if stats.TotalResults > 0 {
		fmt.Fprintf(out, "results: %d winners, %d not selected\n", stats.Winners, stats.Losers)
	}
}
