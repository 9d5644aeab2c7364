package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"ledgerlens/internal/amqp"
	"ledgerlens/internal/backend"
	appcli "ledgerlens/internal/cli"
	"ledgerlens/internal/log"
)

// tailEvents prints every ledger event delivered to the configured queue as
// one JSON line on stdout.
func tailEvents(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is not configured")
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return fmt.Errorf("connect to AMQP: %w", err)
	}
	defer client.Close()

	ctx, cancel := appcli.SignalContext(ctx, logger)
	defer cancel()

	logger.Info("Tailing ledger events",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue)

	err = client.ConsumeEvents(ctx, func(msg *amqp.EventMessage) error {
		line, err := msg.ToJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, string(line))
		return err
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// checkConfig validates the configuration without starting anything.
func checkConfig(_ context.Context, cmd *cli.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	bc, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	if err := bc.Validate(); err != nil {
		return err
	}
	logger.Info("Configuration valid",
		log.FieldOperation, log.OpValidate,
		"agent_backend", bc.Type.String(),
		"available_backends", backend.GetBackendTypeStrings(),
		"amqp_enabled", cfg.AMQPURL != "")
	return nil
}
