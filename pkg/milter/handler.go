package milter

import (
	"bytes"
	"fmt"
	"time"

	"github.com/d--j/go-milter"

	"github.com/gobayes/spam-filter/pkg/classifier"
	"github.com/gobayes/spam-filter/pkg/config"
	"github.com/gobayes/spam-filter/pkg/filter"
)

// Handler implements the milter.Milter interface. It rebuilds the raw
// message from the milter events and hands it to the filter at end of
// message; the statistical core never sees the milter protocol.
type Handler struct {
	milter.NoOpMilter
	config     *config.Config
	spamFilter *filter.SpamFilter

	raw       bytes.Buffer
	startTime time.Time
}

// NewHandler creates a milter handler backed by the given filter
func NewHandler(cfg *config.Config, spamFilter *filter.SpamFilter) *Handler {
	return &Handler{
		config:     cfg,
		spamFilter: spamFilter,
		startTime:  time.Now(),
	}
}

// MailFrom resets the message buffer for a new message
func (h *Handler) MailFrom(from string, esmtpArgs string, m *milter.Modifier) (*milter.Response, error) {
	h.reset()
	return milter.RespContinue, nil
}

// Header accumulates one raw header line
func (h *Handler) Header(name string, value string, m *milter.Modifier) (*milter.Response, error) {
	fmt.Fprintf(&h.raw, "%s: %s\r\n", name, value)
	return milter.RespContinue, nil
}

// Headers marks the end of the header block
func (h *Handler) Headers(m *milter.Modifier) (*milter.Response, error) {
	h.raw.WriteString("\r\n")
	return milter.RespContinue, nil
}

// BodyChunk accumulates body bytes
func (h *Handler) BodyChunk(chunk []byte, m *milter.Modifier) (*milter.Response, error) {
	h.raw.Write(chunk)
	return milter.RespContinue, nil
}

// EndOfMessage classifies the accumulated message and tags or rejects
// it according to configuration
func (h *Handler) EndOfMessage(m *milter.Modifier) (*milter.Response, error) {
	result, err := h.spamFilter.Classify(h.raw.Bytes())
	if err != nil {
		// A broken store must not make mail bounce; tempfail so the
		// MTA retries later.
		return milter.RespTempFail, fmt.Errorf("classification failed: %v", err)
	}

	if h.config.Milter.AddHeaders {
		if err := h.addHeaders(m, result); err != nil {
			return milter.RespTempFail, fmt.Errorf("failed to add headers: %v", err)
		}
	}

	if result.Verdict == classifier.VerdictSpam {
		switch {
		case h.config.Milter.RejectSpam:
			message := h.config.Milter.RejectMessage
			if message == "" {
				message = fmt.Sprintf("5.7.1 Message rejected as spam (probability %.2f)", result.Probability)
			}
			resp, _ := milter.RejectWithCodeAndReason(550, message)
			return resp, nil
		case h.config.Milter.QuarantineSpam:
			reason := fmt.Sprintf("spam (probability %.4f)", result.Probability)
			if err := m.Quarantine(reason); err != nil {
				return milter.RespTempFail, fmt.Errorf("failed to quarantine: %v", err)
			}
		}
	}

	return milter.RespContinue, nil
}

// Abort discards the partially accumulated message
func (h *Handler) Abort(m *milter.Modifier) error {
	h.reset()
	return nil
}

func (h *Handler) reset() {
	h.raw.Reset()
	h.startTime = time.Now()
}

func (h *Handler) addHeaders(m *milter.Modifier, result *filter.Result) error {
	prefix := h.config.Milter.HeaderPrefix

	status := "Ham"
	switch result.Verdict {
	case classifier.VerdictSpam:
		status = "Spam"
	case classifier.VerdictUnsure:
		status = "Unsure"
	}

	if err := m.AddHeader(prefix+"Status", status); err != nil {
		return err
	}
	if err := m.AddHeader(prefix+"Score", fmt.Sprintf("%.4f", result.Probability)); err != nil {
		return err
	}

	scanInfo := fmt.Sprintf("gobayes; %d tokens; %.2fms",
		result.Tokens, float64(time.Since(h.startTime).Microseconds())/1000.0)
	return m.AddHeader(prefix+"Info", scanInfo)
}
