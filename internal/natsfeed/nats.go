// Package natsfeed carries bus position reports over NATS. The tracker
// subscribes and feeds decoded batches into the position feed; the demo
// simulator publishes through the same subject layout.
package natsfeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"schoolbus-tracker/internal/model"
)

type Metrics interface {
	NATSReceivedInc()
	NATSDecodeErrInc()
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

type Conn struct {
	nc          *nats.Conn
	subject     string
	logSubjects bool
	metrics     Metrics
	sub         *nats.Subscription
}

// Connect dials url. subject is the base subject: reports for one bus travel
// on "<subject>.<vehicleId>".
func Connect(url, name, subject string, logSubjects bool, m Metrics) (*Conn, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, errors.New("empty NATS subject")
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &Conn{nc: nc, subject: strings.TrimSuffix(subject, "."), logSubjects: logSubjects, metrics: m}, nil
}

func (c *Conn) Close() {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	if c.nc != nil {
		_ = c.nc.Drain()
		c.nc.Close()
	}
}

// Subscribe delivers the decoded reports of every message to sink. Entries
// that fail to decode are logged, counted and dropped; the rest of their
// message is still delivered.
func (c *Conn) Subscribe(sink func([]model.VehiclePosition)) error {
	wildcard := c.subject + ".>"
	sub, err := c.nc.Subscribe(wildcard, func(msg *nats.Msg) {
		if c.logSubjects {
			log.Printf("nats receive subject=%s", msg.Subject)
		}
		if c.metrics != nil {
			c.metrics.NATSReceivedInc()
		}
		batch, err := DecodePositions(msg.Data)
		if err != nil {
			if c.metrics != nil {
				for i := 0; i < decodeFailures(err); i++ {
					c.metrics.NATSDecodeErrInc()
				}
			}
			log.Printf("drop position entries subject=%s: %v", msg.Subject, err)
		}
		if len(batch) > 0 {
			sink(batch)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", wildcard, err)
	}
	c.sub = sub
	return nil
}

// PublishPosition sends one report on the bus's own subject.
func (c *Conn) PublishPosition(p model.VehiclePosition) error {
	subject := c.Subject(p.VehicleID)
	b, err := json.Marshal(EncodePosition(p))
	if err != nil {
		return err
	}
	if c.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = c.nc.Publish(subject, b)
	if c.metrics != nil {
		c.metrics.PublishObserve(time.Since(start))
		if err != nil {
			c.metrics.NATSPublishErrInc()
		} else {
			c.metrics.NATSPublishedInc()
		}
	}
	return err
}

func (c *Conn) Subject(vehicleID string) string {
	return fmt.Sprintf("%s.%s", c.subject, subjectToken(vehicleID))
}

// PositionMessage is the wire form of a report.
type PositionMessage struct {
	VehicleID   string    `json:"vehicleId"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Timestamp   time.Time `json:"timestamp"`
	PlateNumber string    `json:"plateNumber,omitempty"`
	Status      string    `json:"status,omitempty"`
}

// wireMessage also accepts the snake_case names the backend's navigation
// logs use.
type wireMessage struct {
	VehicleID   json.RawMessage `json:"vehicleId"`
	BusID       json.RawMessage `json:"bus_id"`
	Lat         *float64        `json:"lat"`
	Latitude    *float64        `json:"latitude"`
	Lng         *float64        `json:"lng"`
	Lon         *float64        `json:"lon"`
	Longitude   *float64        `json:"longitude"`
	Timestamp   *time.Time      `json:"timestamp"`
	RecordedAt  string          `json:"recorded_at"`
	PlateNumber string          `json:"plateNumber"`
	Plate       string          `json:"plate_number"`
	Status      string          `json:"status"`
}

func EncodePosition(p model.VehiclePosition) PositionMessage {
	return PositionMessage{
		VehicleID:   p.VehicleID,
		Lat:         p.Lat,
		Lng:         p.Lon,
		Timestamp:   p.RecordedAt,
		PlateNumber: p.PlateNumber,
		Status:      p.Status,
	}
}

// DecodePositions accepts a single report object or an array of them.
// Entries without a vehicle id are skipped. An entry that fails to decode is
// dropped and reported in the returned error, joined with the others, while
// the valid entries are still returned.
func DecodePositions(data []byte) ([]model.VehiclePosition, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	var msgs []wireMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
	} else {
		var m wireMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		msgs = []wireMessage{m}
	}
	out := make([]model.VehiclePosition, 0, len(msgs))
	var errs []error
	for i, m := range msgs {
		p, err := m.position()
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		if p.VehicleID == "" {
			continue
		}
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

// decodeFailures is the number of entries a DecodePositions error dropped.
// A payload that could not be parsed at all counts as one.
func decodeFailures(err error) int {
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}

func (m wireMessage) position() (model.VehiclePosition, error) {
	id, err := idString(m.VehicleID)
	if err != nil {
		return model.VehiclePosition{}, err
	}
	if id == "" {
		if id, err = idString(m.BusID); err != nil {
			return model.VehiclePosition{}, err
		}
	}
	p := model.VehiclePosition{
		VehicleID:   id,
		Lat:         firstFloat(m.Lat, m.Latitude),
		Lon:         firstFloat(m.Lng, m.Lon, m.Longitude),
		PlateNumber: firstNonEmpty(m.PlateNumber, m.Plate),
		Status:      m.Status,
	}
	switch {
	case m.Timestamp != nil:
		p.RecordedAt = *m.Timestamp
	case m.RecordedAt != "":
		t, err := parseRecordedAt(m.RecordedAt)
		if err != nil {
			return model.VehiclePosition{}, err
		}
		p.RecordedAt = t
	}
	return p, nil
}

// idString accepts ids sent as JSON strings or numbers.
func idString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode vehicle id: %w", err)
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("decode vehicle id: %w", err)
	}
	return n.String(), nil
}

// parseRecordedAt accepts RFC 3339 and the backend's zone-less local form.
func parseRecordedAt(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode recorded_at %q: %w", s, err)
	}
	return t, nil
}

func firstFloat(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
