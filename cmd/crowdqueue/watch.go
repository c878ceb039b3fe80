package main

import (
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/voyagen/crowdqueue/internal/models"
	"github.com/voyagen/crowdqueue/internal/reconcile"
	"go.uber.org/zap"
)

func newWatchCommand() *cobra.Command {
	var (
		baseURL     string
		participant string
		interval    time.Duration
		debug       bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a running queue and print it whenever it changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zap.NewNop()
			if debug {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				log = l
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			fetcher := reconcile.NewHTTPFetcher(baseURL, participant, interval)
			poller := reconcile.NewPoller(fetcher, reconcile.NewView(), interval, log,
				func(v *reconcile.View, _ reconcile.Changes) {
					fmt.Fprintln(out, renderView(v, time.Now()))
				})
			return poller.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "Base URL of the crowdqueue server")
	cmd.Flags().StringVarP(&participant, "participant", "p", "", "Participant id sent as "+models.ParticipantHeader)
	cmd.Flags().DurationVar(&interval, "interval", 3*time.Second, "Poll interval")
	cmd.Flags().BoolVar(&debug, "debug", false, "Log poll failures to stderr")
	return cmd
}

// renderView prints the playing entry and the ranked queue.
func renderView(v *reconcile.View, now time.Time) string {
	var b strings.Builder
	writeNowPlaying(&b, v.Active())

	queue := v.Queue()
	if len(queue) == 0 {
		b.WriteString("queue is empty\n")
		return b.String()
	}
	rows := make([][]string, 0, len(queue))
	for i, e := range queue {
		mark := ""
		if e.VotedByMe {
			mark = "*"
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			e.Title,
			strconv.Itoa(e.VoteCount) + mark,
			e.SubmitterID,
			humanAge(now.Sub(e.CreatedAt)),
		})
	}
	b.WriteString(renderTable(
		[]string{"#", "Title", "Votes", "Submitter", "Age"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight},
	))
	b.WriteByte('\n')
	return b.String()
}

func writeNowPlaying(w io.Writer, active *models.QueueEntry) {
	if active == nil {
		fmt.Fprintln(w, "now playing: nothing")
		return
	}
	fmt.Fprintf(w, "now playing: %s (%s)\n", active.Title, active.URL)
}

func humanAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}
