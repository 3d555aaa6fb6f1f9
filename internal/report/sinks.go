package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yllvar/Compound-Explorer/internal/domain"
	"github.com/yllvar/Compound-Explorer/internal/notify"
)

// NotifySink sends a chat message per run, subject to the notifier's event
// filter.
type NotifySink struct {
	n *notify.Notifier
}

func NewNotifySink(n *notify.Notifier) *NotifySink { return &NotifySink{n: n} }

func (s *NotifySink) Name() string { return "notify" }

func (s *NotifySink) Write(ctx context.Context, run domain.PipelineRun) error {
	event := EventName(run)
	return s.n.Notify(ctx, event, Title(run), Message(run))
}

// Title is the one-line notification heading.
func Title(run domain.PipelineRun) string {
	switch EventName(run) {
	case notify.EventSeedSuccess:
		return "Seed deposit confirmed"
	case notify.EventSeedFailed:
		return "Seed deposit failed"
	case notify.EventReinvestNoop:
		return "Nothing to reinvest"
	case notify.EventReinvestSuccess:
		return "Rewards reinvested"
	default:
		return "Reinvestment failed"
	}
}

// Message is the notification body.
func Message(run domain.PipelineRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run: %s\namount: %s (base units)\n", run.ID, run.AmountString())
	if !run.Succeeded() {
		fmt.Fprintf(&b, "failed step: %s\nerror: %s\n", run.FailedStep, run.Error)
	}
	for _, tx := range run.Transactions {
		fmt.Fprintf(&b, "%s: %s %s\n", tx.Method, tx.Status, tx.TxHash.Hex())
	}
	return strings.TrimRight(b.String(), "\n")
}

// AuditSink appends one audit_log row per run.
type AuditSink struct {
	store domain.AuditStore
}

func NewAuditSink(store domain.AuditStore) *AuditSink { return &AuditSink{store: store} }

func (s *AuditSink) Name() string { return "audit" }

func (s *AuditSink) Write(ctx context.Context, run domain.PipelineRun) error {
	doc := NewDocument(run)
	return s.store.Log(ctx, doc.Event, run.ID, doc.Detail())
}

// BlobSink archives each run as JSON at YYYY/MM/DD/<run id>.json.
type BlobSink struct {
	w domain.BlobWriter
}

func NewBlobSink(w domain.BlobWriter) *BlobSink { return &BlobSink{w: w} }

func (s *BlobSink) Name() string { return "blob" }

func (s *BlobSink) Write(ctx context.Context, run domain.PipelineRun) error {
	data, err := json.MarshalIndent(NewDocument(run), "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal run %s: %w", run.ID, err)
	}
	return s.w.Put(ctx, ArchivePath(run), bytes.NewReader(data), "application/json")
}

// ArchivePath is the object path of run, partitioned by start date (UTC).
func ArchivePath(run domain.PipelineRun) string {
	return run.StartedAt.UTC().Format("2006/01/02") + "/" + run.ID + ".json"
}

// BusSink publishes each run document to a pub/sub channel.
type BusSink struct {
	bus     domain.EventBus
	channel string
}

func NewBusSink(bus domain.EventBus, channel string) *BusSink {
	return &BusSink{bus: bus, channel: channel}
}

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Write(ctx context.Context, run domain.PipelineRun) error {
	data, err := json.Marshal(NewDocument(run))
	if err != nil {
		return fmt.Errorf("report: marshal run %s: %w", run.ID, err)
	}
	return s.bus.Publish(ctx, s.channel, data)
}
