package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const DefaultReportInterval = 30 * time.Second

type ZWayToMQTTService interface {
	Run(ctx context.Context) error
}

type ZWayToMQTTServiceParams struct {
	Bridge     *Bridge
	MQTTClient MQTTClient

	ReportInterval time.Duration

	Log zerolog.Logger
}

type zwayToMQTTService struct {
	params ZWayToMQTTServiceParams

	log zerolog.Logger
}

func NewZWayToMQTTService(params ZWayToMQTTServiceParams) (ZWayToMQTTService, error) {
	if params.Bridge == nil {
		return nil, fmt.Errorf("Bridge is nil")
	}
	if params.MQTTClient == nil {
		return nil, fmt.Errorf("MQTTClient is nil")
	}
	if params.ReportInterval == 0 {
		params.ReportInterval = DefaultReportInterval
	}
	return &zwayToMQTTService{params: params, log: params.Log}, nil
}

func (t zwayToMQTTService) Run(ctx context.Context) error {
	g := errgroup.Group{}

	// bridge lifecycle
	g.Go(func() error {
		t.log.Info().Msg("bridge starting")
		t.params.Bridge.Start()

		<-ctx.Done()

		t.log.Info().Msg("bridge stopping")
		t.params.Bridge.Stop()
		return nil
	})

	// mqtt publish reporter
	g.Go(func() error {
		ticker := time.NewTicker(t.params.ReportInterval)
		defer ticker.Stop()

		lastStatus := t.params.MQTTClient.Status()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				newStatus := t.params.MQTTClient.Status()
				t.log.Info().
					Float64("msg_per_min", messagesPerMinute(lastStatus, newStatus, t.params.ReportInterval)).
					Bool("is_connected", newStatus.Connected).
					Str("state", t.params.Bridge.Connection().State().String()).
					Time("last_time_published", newStatus.LastTimePublished).
					Msg("publish report")
				lastStatus = newStatus
			}
		}
	})

	return g.Wait()
}

func messagesPerMinute(last, current MQTTStatus, interval time.Duration) float64 {
	if interval <= 0 || current.MessageCount < last.MessageCount {
		return 0
	}
	return float64(current.MessageCount-last.MessageCount) / interval.Minutes()
}
