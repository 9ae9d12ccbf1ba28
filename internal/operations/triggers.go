package operations

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	apperrors "featureflow/internal/errors"
	"featureflow/internal/pubsub"
)

// Subscribe attaches the trigger handlers to the broker. The returned function
// detaches them.
func (c *Coordinator) Subscribe(buffer int) (func(), error) {
	if c.broker == nil {
		return nil, apperrors.NewConfigError("coordinator has no broker", nil)
	}
	unsubBars, err := c.broker.Subscribe(pubsub.TopicOHLCV, "coordinator.ohlcv", buffer, c.HandleOHLCV)
	if err != nil {
		return nil, err
	}
	unsubVpin, err := c.broker.Subscribe(pubsub.TopicVpinOHLCV, "coordinator.vpin_ohlcv", buffer, c.HandleVpinOHLCV)
	if err != nil {
		unsubBars()
		return nil, err
	}
	return func() {
		unsubBars()
		unsubVpin()
	}, nil
}

// HandleOHLCV reacts to new base bars of an instrument: it rebuilds every VPIN
// builder, recomputes every configured time resolution and refreshes the premium
// index of each pair the instrument belongs to.
func (c *Coordinator) HandleOHLCV(ctx context.Context, msg pubsub.Message) {
	inst, ok := c.instruments.ByID(msg.InstrumentID)
	if !ok {
		c.logger.WarnContext(ctx, "trigger for unknown instrument",
			slog.String("topic", msg.Topic),
			slog.Int64("instrument_id", msg.InstrumentID))
		return
	}

	var g errgroup.Group
	g.SetLimit(c.workers)
	for _, spec := range c.vpinSpecs {
		g.Go(func() error {
			c.RunVpinBars(ctx, inst, spec)
			return nil
		})
	}
	for _, res := range c.resolutions {
		g.Go(func() error {
			c.RunSeries(ctx, inst, res, c.params)
			return nil
		})
	}
	for _, pair := range c.pairs {
		if pair.Spot.ID != inst.ID && pair.Derivative.ID != inst.ID {
			continue
		}
		for _, res := range c.resolutions {
			g.Go(func() error {
				c.RunPremium(ctx, pair, res, c.params)
				return nil
			})
		}
	}
	_ = g.Wait()
}

// HandleVpinOHLCV featurizes freshly written imbalance bars at every configured
// VPIN resolution.
func (c *Coordinator) HandleVpinOHLCV(ctx context.Context, msg pubsub.Message) {
	inst, ok := c.instruments.ByID(msg.InstrumentID)
	if !ok {
		c.logger.WarnContext(ctx, "trigger for unknown instrument",
			slog.String("topic", msg.Topic),
			slog.Int64("instrument_id", msg.InstrumentID))
		return
	}
	if _, ok := c.vpinSpecs.ByID(msg.VpinID); !ok {
		c.logger.WarnContext(ctx, "trigger for unknown vpin builder",
			slog.Int64("instrument_id", msg.InstrumentID),
			slog.Int64("vpin_id", msg.VpinID))
		return
	}

	var g errgroup.Group
	g.SetLimit(c.workers)
	for _, res := range c.vpinResolutions {
		g.Go(func() error {
			c.RunVpinSeries(ctx, inst, msg.VpinID, res)
			return nil
		})
	}
	_ = g.Wait()
}
