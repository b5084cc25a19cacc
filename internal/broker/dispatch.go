package broker

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/gelinger777/binancelink/internal/domain"
	"github.com/gelinger777/binancelink/internal/venue/binance"
)

// combinedFrame is the multiplexed-connection envelope: the stream name the
// payload arrived on plus the payload itself.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// userDataEvent is the shared header of user-data payloads; the event type
// selects the concrete shape.
type userDataEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

// executionReportPayload is the venue's order-update event on the user-data
// stream.
type executionReportPayload struct {
	EventType         string `json:"e"`
	EventTime         int64  `json:"E"`
	Symbol            string `json:"s"`
	ClientOrderID     string `json:"c"`
	OrigClientOrderID string `json:"C"`
	Status            string `json:"X"`
	OrderID           int64  `json:"i"`
	LastFillQty       string `json:"l"`
	LastFillPrice     string `json:"L"`
	CumFillQty        string `json:"z"`
	Fee               string `json:"n"`
	FeeAsset          string `json:"N"`
}

// handleFrame routes one raw inbound frame. It runs behind the stream gate,
// so while a REST order mutation is in flight frames accumulate and replay
// here afterwards. A malformed frame is logged and dropped; one bad message
// must not take the connection down.
func (b *Brokerage) handleFrame(raw []byte) {
	var frame combinedFrame
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame.Data) == 0 {
		b.logger.Warn("dropping malformed stream frame", slog.Int("bytes", len(raw)))
		return
	}

	var header userDataEvent
	if err := json.Unmarshal(frame.Data, &header); err != nil {
		b.logger.Warn("dropping undecodable stream payload", slog.String("stream", frame.Stream))
		return
	}

	switch header.EventType {
	case "executionReport":
		b.handleExecutionReport(frame.Data)
	case "outboundAccountPosition", "balanceUpdate":
		// Balance pushes are informational; REST remains the balance truth.
	case "listenKeyExpired":
		b.enqueueMessage(domain.Message{
			Level: domain.MessageWarn,
			Code:  "listen_key_expired",
			Text:  "user-data authorization expired; orders stream degraded until reconnect",
			Time:  time.Now(),
		})
		b.subs.Rebuild()
	default:
		b.dispatchMarketData(frame.Stream, frame.Data)
	}
}

func (b *Brokerage) handleExecutionReport(data json.RawMessage) {
	var p executionReportPayload
	if err := json.Unmarshal(data, &p); err != nil {
		b.logger.Warn("dropping malformed execution report", slog.String("error", err.Error()))
		return
	}

	// Cancels round-trip the original client order id in a separate field.
	clientOrderID := p.ClientOrderID
	if p.OrigClientOrderID != "" {
		clientOrderID = p.OrigClientOrderID
	}

	b.cache.ApplyExecutionReport(domain.ExecutionReport{
		BrokerID:      brokerID(p.OrderID),
		ClientOrderID: clientOrderID,
		Symbol:        b.mapper.ToLocal(p.Symbol),
		Status:        binance.StatusFromVenue(p.Status),
		LastFillQty:   parseDecimal(p.LastFillQty),
		LastFillPrice: parseDecimal(p.LastFillPrice),
		CumFillQty:    parseDecimal(p.CumFillQty),
		Fee:           parseDecimal(p.Fee),
		FeeAsset:      p.FeeAsset,
		Time:          time.UnixMilli(p.EventTime),
	})
}

func (b *Brokerage) dispatchMarketData(streamName string, payload []byte) {
	b.cbMu.RLock()
	cbs := b.marketCbs
	b.cbMu.RUnlock()
	for _, fn := range cbs {
		fn(streamName, payload)
	}
}

// dispatch is the single fan-out loop. Everything the host observes
// (order events, messages, session lifecycle) flows through this goroutine,
// so callbacks never race each other.
func (b *Brokerage) dispatch() {
	for {
		select {
		case <-b.lifetime.Done():
			return

		case ev := <-b.orderEvents:
			b.cbMu.RLock()
			cbs := b.orderCbs
			b.cbMu.RUnlock()
			for _, fn := range cbs {
				fn(ev)
			}

		case msg := <-b.messages:
			b.cbMu.RLock()
			cbs := b.msgCbs
			b.cbMu.RUnlock()
			for _, fn := range cbs {
				fn(msg)
			}

		case ev := <-b.session.Events():
			b.handleSessionEvent(ev)
		}
	}
}

func (b *Brokerage) handleSessionEvent(ev domain.SessionEvent) {
	switch ev.Kind {
	case domain.SessionEventConnected:
		b.enqueueMessage(domain.Message{
			Level: domain.MessageInfo,
			Code:  "stream_connected",
			Text:  "streaming connection established",
			Time:  time.Now(),
		})

	case domain.SessionEventDisconnected:
		text := "streaming connection lost"
		if ev.Err != nil {
			text += ": " + ev.Err.Error()
		}
		b.enqueueMessage(domain.Message{
			Level: domain.MessageWarn,
			Code:  "stream_disconnected",
			Text:  text,
			Time:  time.Now(),
		})
		// Recovery goes through the subscription owner so the desired set is
		// replayed on the fresh connection.
		b.subs.Rebuild()

	case domain.SessionEventReconnectRequested:
		b.logger.Info("scheduled stream rebuild")
		b.subs.Rebuild()
	}
}

// enqueueOrderEvent feeds the dispatcher. Order events are never dropped;
// the send blocks if the host falls far behind.
func (b *Brokerage) enqueueOrderEvent(ev domain.OrderEvent) {
	select {
	case b.orderEvents <- ev:
	case <-b.lifetime.Done():
	}
}

// enqueueMessage feeds the dispatcher. Messages are best effort and may be
// dropped under backpressure.
func (b *Brokerage) enqueueMessage(msg domain.Message) {
	select {
	case b.messages <- msg:
	default:
		b.logger.Warn("message dropped", slog.String("code", msg.Code))
	}
}

func brokerID(orderID int64) string {
	return strconv.FormatInt(orderID, 10)
}

// parseDecimal converts the venue's decimal strings; malformed values decode
// to zero rather than failing the whole report.
func parseDecimal(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
