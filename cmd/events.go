/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jjudge-oj/marketplace/internal/mq"
	"github.com/jjudge-oj/marketplace/types"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect catalog events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Log catalog events as they are published",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig("events")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.NewFromConfig(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if queue == nil {
			return errors.New("MQ_BACKEND is not configured")
		}
		defer func() {
			_ = queue.Close()
		}()

		log.Info().Str("channel", cfg.MQ.Channel).Msg("tailing catalog events")
		err = queue.Subscribe(ctx, cfg.MQ.Channel, func(ctx context.Context, msg mq.Message) error {
			var event types.CatalogEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				log.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping malformed event")
				return nil
			}
			entry := log.Info().
				Str("message_id", msg.ID).
				Str("type", event.Type).
				Int("product_id", event.ProductID).
				Int("user_id", event.UserID).
				Time("occurred_at", event.OccurredAt)
			if event.Liked != nil {
				entry = entry.Bool("liked", *event.Liked)
			}
			entry.Msg("catalog event")
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
