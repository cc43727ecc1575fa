package audit

import (
	"context"

	"groundlink/internal/bus"
	"groundlink/internal/sequencer"
	"groundlink/internal/station"
	"groundlink/internal/telemetry"
)

// WriteQueue serializes audit writes from async bus events.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

// StartRecorder projects the station's event topics into the range log. Each
// topic gets its own subscriber goroutine; writes funnel through the queue.
func StartRecorder(ctx context.Context, b bus.MessageBus, queue WriteQueue, transitions *TransitionRepo, events *LinkEventRepo, frames *FrameRepo, samples *SampleRepo) {
	stateSub := b.Subscribe(station.TopicLaunchState)
	linkSub := b.Subscribe(station.TopicLinkEvent)
	sampleSub := b.Subscribe(station.TopicTelemetry)

	go func() {
		defer b.Unsubscribe(stateSub, station.TopicLaunchState)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-stateSub:
				if !ok {
					return
				}
				tr, ok := raw.(sequencer.Transition)
				if !ok {
					continue
				}
				queue.Enqueue("insert_transition", func(writeCtx context.Context) error {
					return transitions.Insert(writeCtx, tr)
				})
			}
		}
	}()

	go func() {
		defer b.Unsubscribe(linkSub, station.TopicLinkEvent)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-linkSub:
				if !ok {
					return
				}
				ev, ok := raw.(station.LinkEvent)
				if !ok {
					continue
				}
				queue.Enqueue("insert_link_event", func(writeCtx context.Context) error {
					return events.Insert(writeCtx, ev)
				})
			}
		}
	}()

	go func() {
		defer b.Unsubscribe(sampleSub, station.TopicTelemetry)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sampleSub:
				if !ok {
					return
				}
				reading, ok := raw.(telemetry.Reading)
				if !ok {
					continue
				}
				queue.Enqueue("insert_sample", func(writeCtx context.Context) error {
					return samples.Insert(writeCtx, reading)
				})
			}
		}
	}()

	recordFrames(ctx, b, queue, frames, station.TopicRawFrameIn, DirectionIn)
	recordFrames(ctx, b, queue, frames, station.TopicRawFrameOut, DirectionOut)
}

func recordFrames(ctx context.Context, b bus.MessageBus, queue WriteQueue, frames *FrameRepo, topic, direction string) {
	sub := b.Subscribe(topic)
	go func() {
		defer b.Unsubscribe(sub, topic)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				frame, ok := raw.(station.RawFrame)
				if !ok {
					continue
				}
				queue.Enqueue("insert_frame", func(writeCtx context.Context) error {
					return frames.Insert(writeCtx, direction, frame)
				})
			}
		}
	}()
}
