package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	cardlink "github.com/cardlink/cardlink-go"
)

var watchCmd = &cobra.Command{
	Use:   "watch <room-id>",
	Short: "Tail a room live over the push channel",
	Long: "Opens the real-time core on one room and prints messages as they\n" +
		"arrive. Push delivery is merged with periodic REST refreshes, so the\n" +
		"tail stays correct even while the push channel reconnects.",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		api, cfg, err := newAPIClient()
		if err != nil {
			fatal(err)
		}
		log := newLogger()
		defer func() { _ = log.Sync() }()

		msgr, err := cardlink.NewMessenger(api, cardlink.MessengerConfig{
			Token:  cfg.Auth.Token,
			UserID: cfg.Auth.UserID,
			Logger: log,
		})
		if err != nil {
			fatal(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		msgr.Conn().OnStatus(func(st cardlink.Status) {
			fmt.Println("--", st)
		})
		msgr.Start(ctx)
		defer msgr.Stop()

		session := msgr.OpenRoom(args[0])
		defer session.Close()

		// Reprint the tail whenever the merged view changes. Change
		// notifications can come from the read loop, the poller, and fetch
		// goroutines, hence the lock.
		var mu sync.Mutex
		seen := 0
		session.OnChange(func() {
			mu.Lock()
			defer mu.Unlock()
			msgs := session.Messages()
			for ; seen < len(msgs); seen++ {
				m := msgs[seen]
				pending := ""
				if m.Pending() {
					pending = " (pending)"
				}
				fmt.Printf("[%s] %s: %s%s\n", m.SentAt.Local().Format("15:04:05"), m.Sender, m.Content, pending)
			}
		})

		fmt.Println("Watching room", args[0], "— Ctrl-C to stop.")
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
