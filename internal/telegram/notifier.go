package telegram

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/web3-frozen/tvl-extractor/internal/cache"
	"github.com/web3-frozen/tvl-extractor/internal/metrics"
	"github.com/web3-frozen/tvl-extractor/internal/orchestrator"
	"github.com/web3-frozen/tvl-extractor/internal/pipeline"
	"github.com/web3-frozen/tvl-extractor/internal/report"
)

// Sender delivers a message to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Notifier alerts a chat when a run fails validation. A run with the same
// set of validation errors as an already alerted run is not sent again
// until DedupTTL expires.
type Notifier struct {
	sender   Sender
	chatID   int64
	dedup    cache.Store
	dedupTTL time.Duration
	logger   *slog.Logger
}

func NewNotifier(sender Sender, chatID int64, dedup cache.Store, logger *slog.Logger) *Notifier {
	if dedup == nil {
		dedup = cache.NewMemory()
	}
	return &Notifier{sender: sender, chatID: chatID, dedup: dedup, dedupTTL: 24 * time.Hour, logger: logger}
}

// Notify is a pipeline sink.
func (n *Notifier) Notify(ctx context.Context, out *pipeline.Output) error {
	if out.Validation.Passed {
		return nil
	}

	key := alertKey(out)
	if n.dedup.AlreadySent(ctx, key) {
		metrics.AlertsDeduplicatedTotal.Inc()
		n.logger.Info("validation alert already sent", "key", key)
		return nil
	}

	if err := n.sender.SendMessage(ctx, n.chatID, FormatAlert(out)); err != nil {
		metrics.AlertsSentTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("send validation alert: %w", err)
	}
	metrics.AlertsSentTotal.WithLabelValues("ok").Inc()
	n.dedup.Record(ctx, key, n.dedupTTL)
	return nil
}

// alertKey identifies a run's error set independent of order and amounts.
func alertKey(out *pipeline.Output) string {
	parts := make([]string, 0, len(out.Validation.Errors))
	for _, e := range out.Validation.Errors {
		parts = append(parts, e.Protocol+"|"+string(e.Chain)+"|"+e.Message)
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return "alert:validation:" + hex.EncodeToString(sum[:8])
}

// FormatAlert renders the alert message for a failed run.
func FormatAlert(out *pipeline.Output) string {
	var b strings.Builder
	rep := out.Report
	fmt.Fprintf(&b, "🚨 <b>tBTC TVL VALIDATION FAILED</b>\n\n")
	fmt.Fprintf(&b, "Run: <code>%s</code>\n", rep.Metadata.RunID)
	fmt.Fprintf(&b, "Total TVL: %s tBTC\n", report.FormatTokens(rep.Summary.TotalAmount))
	fmt.Fprintf(&b, "Success rate: %.1f%% (%d/%d)\n", rep.Summary.SuccessRate*100, rep.Summary.Succeeded, rep.Summary.Attempted)
	if failed := out.Result.Count(orchestrator.StatusFailed); failed > 0 {
		fmt.Fprintf(&b, "Failed extractions: %d\n", failed)
	}
	fmt.Fprintf(&b, "\nErrors (%d):\n", out.Validation.Summary.ErrorCount)
	for _, e := range out.Validation.Errors {
		fmt.Fprintf(&b, "• %s on %s: %s\n", html.EscapeString(e.Protocol), e.Chain.String(), html.EscapeString(e.Message))
	}
	return b.String()
}
