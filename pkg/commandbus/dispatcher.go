package commandbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DispatcherConfig holds configuration for a Dispatcher.
type DispatcherConfig struct {
	NumWorkers int
	// HandleTimeout bounds one command, including its reply. Zero means no bound.
	HandleTimeout time.Duration
}

// Dispatcher runs a pool of workers that take deliveries from a Consumer,
// hand the decoded command to a Handler and publish the reply.
//
// A delivery is acked once its reply is published, or immediately when it
// cannot be decoded or needs no reply. Handler and publish failures nack it.
type Dispatcher struct {
	numWorkers    int
	handleTimeout time.Duration
	consumer      Consumer
	handler       Handler
	publisher     Publisher
	logger        zerolog.Logger
	wg            sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	cfg DispatcherConfig,
	consumer Consumer,
	handler Handler,
	publisher Publisher,
	logger zerolog.Logger,
) (*Dispatcher, error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 5
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	return &Dispatcher{
		numWorkers:    cfg.NumWorkers,
		handleTimeout: cfg.HandleTimeout,
		consumer:      consumer,
		handler:       handler,
		publisher:     publisher,
		logger:        logger.With().Str("service", "Dispatcher").Logger(),
	}, nil
}

// Start starts the consumer and the workers.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info().Msg("Starting dispatcher...")
	if err := d.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start command consumer: %w", err)
	}

	d.logger.Info().Int("worker_count", d.numWorkers).Msg("Starting command workers...")
	d.wg.Add(d.numWorkers)
	for i := 0; i < d.numWorkers; i++ {
		go d.worker(ctx, i)
	}
	return nil
}

// Stop stops the consumer first, then waits for in-flight commands.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.logger.Info().Msg("Stopping dispatcher...")
	if err := d.consumer.Stop(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	workerDone := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(workerDone)
	}()

	select {
	case <-workerDone:
		d.logger.Info().Msg("All command workers completed gracefully.")
	case <-ctx.Done():
		d.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for command workers to finish.")
		return ctx.Err()
	}

	if err := d.publisher.Stop(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Error flushing reply publisher.")
	}
	d.logger.Info().Msg("Dispatcher stopped.")
	return nil
}

func (d *Dispatcher) worker(ctx context.Context, workerID int) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			d.logger.Debug().Int("worker_id", workerID).Msg("Command worker shutting down due to context cancellation.")
			return
		case delivery, ok := <-d.consumer.Commands():
			if !ok {
				d.logger.Debug().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			d.process(ctx, delivery)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, delivery Delivery) {
	cmd, err := DecodeCommand(delivery)
	if err != nil {
		d.logger.Warn().Err(err).Str("msg_id", delivery.ID).Msg("Dropping undecodable command, Acking.")
		delivery.Ack()
		return
	}

	if d.handleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.handleTimeout)
		defer cancel()
	}

	reply, err := d.handler.Handle(ctx, cmd)
	if err != nil {
		d.logger.Error().Err(err).Str("command_id", cmd.ID).Str("command", cmd.Name).Msg("Handler failed, Nacking.")
		delivery.Nack()
		return
	}
	if reply == nil {
		d.logger.Debug().Str("command_id", cmd.ID).Msg("No reply required, Acking.")
		delivery.Ack()
		return
	}

	if reply.ID == "" {
		reply.ID = uuid.NewString()
	}
	reply.CommandID = cmd.ID
	reply.ChannelID = cmd.ChannelID
	if reply.Command == "" {
		reply.Command = cmd.Name
	}

	payload, err := json.Marshal(reply)
	if err != nil {
		d.logger.Error().Err(err).Str("command_id", cmd.ID).Msg("Failed to encode reply, Nacking.")
		delivery.Nack()
		return
	}
	attrs := map[string]string{
		"command":    reply.Command,
		"status":     string(reply.Status),
		"channel_id": reply.ChannelID,
	}
	if err := d.publisher.Publish(ctx, payload, attrs); err != nil {
		d.logger.Error().Err(err).Str("command_id", cmd.ID).Msg("Failed to publish reply, Nacking.")
		delivery.Nack()
		return
	}

	d.logger.Debug().Str("command_id", cmd.ID).Str("status", string(reply.Status)).Msg("Reply published, Acking.")
	delivery.Ack()
}
