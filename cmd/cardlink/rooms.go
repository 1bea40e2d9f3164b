package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List and create chat rooms",
}

var roomsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your chat rooms",
	Run: func(cmd *cobra.Command, args []string) {
		api, _, err := newAPIClient()
		if err != nil {
			fatal(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		rooms, err := api.Rooms().List(ctx)
		if err != nil {
			fatal(err)
		}
		if len(rooms) == 0 {
			fmt.Println("No rooms.")
			return
		}
		for _, r := range rooms {
			name := r.Name
			if name == "" {
				name = fmt.Sprintf("(%s)", r.Kind)
			}
			line := fmt.Sprintf("%s  %s", r.ID, name)
			if r.LastMessage != nil {
				line += fmt.Sprintf("  — %s: %s", r.LastMessage.Sender, r.LastMessage.Content)
			}
			fmt.Println(line)
		}
	},
}

var (
	createParticipant  string
	createGroupName    string
	createBusinessCard string
)

var roomsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a room (direct, group, or from a business card)",
	Run: func(cmd *cobra.Command, args []string) {
		api, _, err := newAPIClient()
		if err != nil {
			fatal(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		switch {
		case createParticipant != "":
			r, err := api.Rooms().CreateDirect(ctx, createParticipant)
			if err != nil {
				fatal(err)
			}
			fmt.Println("Room:", r.ID)
		case createGroupName != "":
			r, err := api.Rooms().CreateGroup(ctx, createGroupName)
			if err != nil {
				fatal(err)
			}
			fmt.Println("Room:", r.ID)
		case createBusinessCard != "":
			r, err := api.Rooms().CreateFromBusinessCard(ctx, createBusinessCard)
			if err != nil {
				fatal(err)
			}
			fmt.Println("Room:", r.ID)
		default:
			fatal(fmt.Errorf("one of --participant, --group, or --business-card is required"))
		}
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <room-id> <message>",
	Short: "Send a message to a room",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		api, _, err := newAPIClient()
		if err != nil {
			fatal(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		msg, err := api.Rooms().Send(ctx, args[0], args[1], "")
		if err != nil {
			fatal(err)
		}
		fmt.Println("Sent:", msg.ID)
	},
}

var historySize int

var historyCmd = &cobra.Command{
	Use:   "history <room-id>",
	Short: "Print recent messages in a room",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		api, _, err := newAPIClient()
		if err != nil {
			fatal(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		msgs, err := api.Rooms().Messages(ctx, args[0], historySize, "")
		if err != nil {
			fatal(err)
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", m.SentAt.Local().Format("15:04:05"), m.Sender, m.Content)
		}
	},
}

var alarmsCmd = &cobra.Command{
	Use:   "alarms",
	Short: "List and manage alarms",
	Run: func(cmd *cobra.Command, args []string) {
		api, _, err := newAPIClient()
		if err != nil {
			fatal(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		alarms, err := api.Alarms().List(ctx, 0, 0)
		if err != nil {
			fatal(err)
		}
		count, err := api.Alarms().UnreadCount(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Unread: %d\n", count)
		for _, a := range alarms {
			mark := " "
			if !a.Read {
				mark = "*"
			}
			fmt.Printf("%s %s  %s\n", mark, a.CreatedAt.Local().Format("2006-01-02 15:04"), a.Content)
		}
	},
}

var alarmsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every alarm as read",
	Run: func(cmd *cobra.Command, args []string) {
		api, _, err := newAPIClient()
		if err != nil {
			fatal(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := api.Alarms().MarkAllRead(ctx); err != nil {
			fatal(err)
		}
		fmt.Println("Done.")
	},
}

func init() {
	roomsCreateCmd.Flags().StringVar(&createParticipant, "participant", "", "create a direct room with this user id")
	roomsCreateCmd.Flags().StringVar(&createGroupName, "group", "", "create a group room with this name")
	roomsCreateCmd.Flags().StringVar(&createBusinessCard, "business-card", "", "create a room with the owner of this business card")
	historyCmd.Flags().IntVar(&historySize, "size", 50, "number of messages to fetch")

	roomsCmd.AddCommand(roomsListCmd)
	roomsCmd.AddCommand(roomsCreateCmd)
	alarmsCmd.AddCommand(alarmsReadAllCmd)
	rootCmd.AddCommand(roomsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(alarmsCmd)
}
